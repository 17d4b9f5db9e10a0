// Package dynamo implements ports.InventoryStore on DynamoDB. Stock
// decrements, claim inserts and the uniqueness locks of a claim share one
// TransactWriteItems call.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type ClientConfig struct {
	Region string
	// Endpoint overrides the service URL, e.g. DynamoDB Local.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient loads the default AWS config chain with the given overrides.
func NewClient(ctx context.Context, c ClientConfig) (*dynamodb.Client, error) {
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(region)}
	if c.AccessKey != "" || c.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

// EnsureTables creates the donation, claim and lock tables when they are
// missing. All are keyed by the string attribute "id" and billed per request.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, table := range []string{s.donations, s.claims, s.locks} {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			continue
		}
		var nf *types.ResourceNotFoundException
		if !errors.As(err, &nf) {
			return fmt.Errorf("describe table %s: %w", table, err)
		}
		_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:   aws.String(table),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		waiter := dynamodb.NewTableExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, tableWait); err != nil {
			return fmt.Errorf("wait for table %s: %w", table, err)
		}
	}
	return nil
}
