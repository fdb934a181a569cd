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
	bridge.Logger.Info("whatsapp event handler ready",
		"instance_id", bridge.Config.Connect.InstanceId,
		"table", bridge.Config.Directory.TableName,
		"reconnect", bridge.Config.ReconnectOnAccessDenied,
	)

	lambda.Start(bridge.Inbound.Handle)
}
