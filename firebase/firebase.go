package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"taskplanner/config"
	"taskplanner/utilities"
)

// InitializeFirebase creates the Firebase app from a service account file
// or, without one, from application default credentials. With
// FIRESTORE_EMULATOR_HOST set only the project id is needed.
func InitializeFirebase(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	var appConfig *firebase.Config
	if cfg.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}

	utilities.LogInfo("Firebase initialized (project %q)", cfg.ProjectID)
	return app, nil
}

// GetFirestoreClient returns a Firestore client for the configured project.
func GetFirestoreClient(ctx context.Context, cfg config.FirebaseConfig) (*firestore.Client, error) {
	app, err := InitializeFirebase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firestore client: %w", err)
	}
	return client, nil
}
