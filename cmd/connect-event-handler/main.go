package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/app"
)

func main() {
	bridge, err := app.Load(context.Background())
	if err != nil {
		log.Fatalf("Error loading bridge: %v", err)
	}
	bridge.Logger.Info("connect event handler ready",
		"table", bridge.Config.Directory.TableName,
		"delivery", bridge.Config.Whatsapp.DeliveryMode,
	)

	lambda.Start(bridge.Outbound.Handle)
}
