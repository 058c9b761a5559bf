package services

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseClients bundles the Admin SDK clients the server uses
type FirebaseClients struct {
	Auth      *auth.Client
	Messaging *messaging.Client
}

// InitFirebase initializes the Firebase Admin SDK from a service account file
func InitFirebase(ctx context.Context, credPath string) (*FirebaseClients, error) {
	opt := option.WithCredentialsFile(credPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}

	return &FirebaseClients{Auth: authClient, Messaging: msgClient}, nil
}
