// Package directory keeps the mapping between WhatsApp customers and their
// active Amazon Connect chat contacts in a DynamoDB table.
//
// The table is keyed by contactId and carries a secondary index on customerId.
// Reads and writes are independent calls with no conditional expressions, so
// two invocations racing on the same customer can both create a record.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrContactID        = "contactId"
	attrCustomerID       = "customerId"
	attrParticipantToken = "participantToken"
	attrConnectionToken  = "connectionToken"
	attrName             = "name"
	attrChannel          = "channel"
	attrSystemNumber     = "systemNumber"
)

var ErrMissingContactID = errors.New("contact id is empty")

// ContactRecord is one active conversation between a customer and the contact center.
type ContactRecord struct {
	ContactID        string `dynamodbav:"contactId"`
	CustomerID       string `dynamodbav:"customerId"`
	ParticipantToken string `dynamodbav:"participantToken"`
	ConnectionToken  string `dynamodbav:"connectionToken"`
	Name             string `dynamodbav:"name"`
	Channel          string `dynamodbav:"channel"`
	SystemNumber     string `dynamodbav:"systemNumber"`
}

// DynamoDBAPI is the subset of the DynamoDB client used by the directory.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

type Directory struct {
	client    DynamoDBAPI
	tableName string
	indexName string
	logger    *slog.Logger
}

func New(client DynamoDBAPI, tableName, indexName string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger.With("component", "directory", "table", tableName),
	}
}

// Insert creates the record for rec.ContactID, overwriting every attribute of an existing one.
func (d *Directory) Insert(ctx context.Context, rec ContactRecord) error {
	return d.write(ctx, rec, types.ReturnValueAllNew)
}

// Update refreshes the tokens (and every other attribute) of an existing contact.
func (d *Directory) Update(ctx context.Context, rec ContactRecord) error {
	return d.write(ctx, rec, types.ReturnValueUpdatedNew)
}

func (d *Directory) write(ctx context.Context, rec ContactRecord, returnValues types.ReturnValue) error {
	if rec.ContactID == "" {
		return ErrMissingContactID
	}

	update := expression.
		Set(expression.Name(attrCustomerID), expression.Value(rec.CustomerID)).
		Set(expression.Name(attrParticipantToken), expression.Value(rec.ParticipantToken)).
		Set(expression.Name(attrConnectionToken), expression.Value(rec.ConnectionToken)).
		Set(expression.Name(attrName), expression.Value(rec.Name)).
		Set(expression.Name(attrChannel), expression.Value(rec.Channel)).
		Set(expression.Name(attrSystemNumber), expression.Value(rec.SystemNumber))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("building update for contact %s: %w", rec.ContactID, err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       contactKey(rec.ContactID),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		UpdateExpression:          expr.Update(),
		ReturnValues:              returnValues,
	})
	if err != nil {
		return fmt.Errorf("writing contact %s: %w", rec.ContactID, err)
	}
	d.logger.Debug("contact stored", "contact_id", rec.ContactID, "customer_id", rec.CustomerID)
	return nil
}

// GetByCustomerID returns the first record found on the customer index, or nil.
// When several records exist for one customer the one returned is whichever
// the index yields first.
func (d *Directory) GetByCustomerID(ctx context.Context, customerID string) (*ContactRecord, error) {
	rec, err := d.queryFirst(ctx, aws.String(d.indexName), attrCustomerID, customerID)
	if err != nil {
		return nil, fmt.Errorf("looking up customer %s: %w", customerID, err)
	}
	return rec, nil
}

func (d *Directory) GetByContactID(ctx context.Context, contactID string) (*ContactRecord, error) {
	rec, err := d.queryFirst(ctx, nil, attrContactID, contactID)
	if err != nil {
		return nil, fmt.Errorf("looking up contact %s: %w", contactID, err)
	}
	return rec, nil
}

// ConnectionToken returns the stored connection token of a contact, or "" when
// the contact is unknown.
func (d *Directory) ConnectionToken(ctx context.Context, contactID string) (string, error) {
	rec, err := d.GetByContactID(ctx, contactID)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ConnectionToken, nil
}

// Remove deletes the contact. Removing an unknown contact succeeds.
func (d *Directory) Remove(ctx context.Context, contactID string) error {
	if contactID == "" {
		return ErrMissingContactID
	}
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       contactKey(contactID),
	})
	if err != nil {
		return fmt.Errorf("removing contact %s: %w", contactID, err)
	}
	d.logger.Debug("contact removed", "contact_id", contactID)
	return nil
}

func (d *Directory) queryFirst(ctx context.Context, indexName *string, attr, value string) (*ContactRecord, error) {
	keyCond := expression.Key(attr).Equal(expression.Value(value))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 indexName,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var rec ContactRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &rec, nil
}

func contactKey(contactID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrContactID: &types.AttributeValueMemberS{Value: contactID},
	}
}
