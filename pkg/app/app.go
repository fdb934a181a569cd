// Package app wires configuration, AWS clients and routers for the Lambda
// entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/connect"
	"github.com/aws/aws-sdk-go-v2/service/connectparticipant"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/socialmessaging"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/bridge"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/chat"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/config"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/directory"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/whatsapp"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Inbound  *bridge.InboundRouter
	Outbound *bridge.OutboundRouter
}

// Clients are the AWS service clients the bridge talks to.
type Clients struct {
	Connect         chat.ConnectAPI
	Participant     chat.ParticipantAPI
	DynamoDB        directory.DynamoDBAPI
	SocialMessaging whatsapp.SocialMessagingAPI
	SNS             whatsapp.SNSAPI
}

func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// Load reads the configuration and builds the routers on top of the default
// AWS credential chain.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return New(cfg, NewClients(awsCfg), logger), nil
}

func NewClients(awsCfg aws.Config) Clients {
	return Clients{
		Connect:         connect.NewFromConfig(awsCfg),
		Participant:     connectparticipant.NewFromConfig(awsCfg),
		DynamoDB:        dynamodb.NewFromConfig(awsCfg),
		SocialMessaging: socialmessaging.NewFromConfig(awsCfg),
		SNS:             sns.NewFromConfig(awsCfg),
	}
}

func New(cfg *config.Config, clients Clients, logger *slog.Logger) *App {
	dir := directory.New(clients.DynamoDB, cfg.Directory.TableName, cfg.Directory.CustomerIndexName, logger)
	sessions := chat.NewManager(clients.Connect, clients.Participant, chat.Options{
		InstanceID:           cfg.Connect.InstanceId,
		ContactFlowID:        cfg.Connect.ContactFlowId,
		ChatDurationMinutes:  cfg.Connect.ChatDurationMinutes,
		StreamingTopicARN:    cfg.Connect.TopicArn,
		StopOrphanedContacts: cfg.StopOrphanedContacts,
	}, logger)

	inboundOpts := bridge.InboundOptions{Reconnect: cfg.ReconnectOnAccessDenied}
	var sender whatsapp.Sender
	switch cfg.Whatsapp.DeliveryMode {
	case config.DeliveryModeSNS:
		sender = whatsapp.NewSNSSender(clients.SNS, logger)
	default:
		social := whatsapp.NewSocialSender(clients.SocialMessaging, cfg.Whatsapp.MetaApiVersion, logger)
		inboundOpts.Receipts = social
		sender = social
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Inbound:  bridge.NewInboundRouter(dir, sessions, inboundOpts, logger),
		Outbound: bridge.NewOutboundRouter(dir, sender, sessions, logger),
	}
}
