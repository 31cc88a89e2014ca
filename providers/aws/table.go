package aws

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/convergent-io/convergent/internal/engine"
)

// TableConfig declares a DynamoDB table.
type TableConfig struct {
	// TableName defaults to the derived physical name.
	TableName  string                `json:"tableName"`
	Attributes []AttributeDefinition `json:"attributes" validate:"required,min=1,dive"`
	KeySchema  []KeySchemaElement    `json:"keySchema" validate:"required,min=1,dive"`
	// BillingMode is mutable in place; key schema and attributes are not.
	BillingMode string `json:"billingMode" validate:"omitempty,oneof=PAY_PER_REQUEST PROVISIONED"`
}

type AttributeDefinition struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required,oneof=S N B"`
}

type KeySchemaElement struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required,oneof=HASH RANGE"`
}

func (p *Provider) handleTable(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if hc.Phase == engine.PhaseDelete {
		if err := p.ensureClients(ctx); err != nil {
			return nil, err
		}
		return p.deleteTable(ctx, hc)
	}

	var desired TableConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}
	if desired.TableName == "" {
		desired.TableName = hc.PhysicalName
	}
	if desired.BillingMode == "" {
		desired.BillingMode = string(dbtypes.BillingModePayPerRequest)
	}

	if hc.Phase == engine.PhaseUpdate {
		var prior TableConfig
		if err := p.decodeProps(hc.PreviousInputs, &prior); err != nil {
			return nil, err
		}
		if prior.TableName == "" {
			prior.TableName = hc.PhysicalName
		}
		if desired.TableName != prior.TableName ||
			!reflect.DeepEqual(desired.KeySchema, prior.KeySchema) ||
			!reflect.DeepEqual(desired.Attributes, prior.Attributes) {
			// Key structure is immutable once the table exists.
			return engine.Replace(), nil
		}
		if desired.BillingMode != prior.BillingMode && prior.BillingMode != "" {
			if err := p.ensureClients(ctx); err != nil {
				return nil, err
			}
			_, err := p.dbClient.UpdateTable(ctx, &dynamodb.UpdateTableInput{
				TableName:   &desired.TableName,
				BillingMode: dbtypes.BillingMode(desired.BillingMode),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update table %s: %w", desired.TableName, err)
			}
		}
		return engine.Updated(hc.PreviousOutput), nil
	}

	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	if hc.Adopt {
		return p.adoptTable(ctx, desired)
	}
	return p.createTable(ctx, desired)
}

func (p *Provider) createTable(ctx context.Context, desired TableConfig) (*engine.Result, error) {
	var attrs []dbtypes.AttributeDefinition
	for _, a := range desired.Attributes {
		attrs = append(attrs, dbtypes.AttributeDefinition{
			AttributeName: &a.Name,
			AttributeType: dbtypes.ScalarAttributeType(a.Type),
		})
	}
	var keySchema []dbtypes.KeySchemaElement
	for _, k := range desired.KeySchema {
		keySchema = append(keySchema, dbtypes.KeySchemaElement{
			AttributeName: &k.Name,
			KeyType:       dbtypes.KeyType(k.Type),
		})
	}

	// DynamoDB throttles are transient; a name conflict is not and falls
	// through for the adoption path.
	var resp *dynamodb.CreateTableOutput
	err := engine.RetryWithBackoff(ctx, nil, func() error {
		out, err := p.dbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            &desired.TableName,
			AttributeDefinitions: attrs,
			KeySchema:            keySchema,
			BillingMode:          dbtypes.BillingMode(desired.BillingMode),
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	}, engine.IsTransientError)
	if err != nil {
		var inUse *dbtypes.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil, &engine.ConflictError{NaturalKey: desired.TableName, Err: err}
		}
		return nil, fmt.Errorf("failed to create table %s: %w", desired.TableName, err)
	}
	return engine.Created(tableOutput(*resp.TableDescription.TableName, *resp.TableDescription.TableArn)), nil
}

// adoptTable looks up a pre-existing table and returns it as though freshly
// created, transferring ownership to the engine.
func (p *Provider) adoptTable(ctx context.Context, desired TableConfig) (*engine.Result, error) {
	resp, err := p.dbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &desired.TableName})
	if err != nil {
		var notFound *dbtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("cannot adopt table %s: %w", desired.TableName, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up table %s: %w", desired.TableName, err)
	}
	return engine.Created(tableOutput(*resp.Table.TableName, *resp.Table.TableArn)), nil
}

func (p *Provider) deleteTable(ctx context.Context, hc *engine.HandlerContext) (*engine.Result, error) {
	name, _ := hc.PreviousOutput["name"].(string)
	if name == "" {
		return engine.Destroyed(), nil
	}
	if _, err := p.dbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: &name}); err != nil {
		var notFound *dbtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %v", engine.ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to delete table %s: %w", name, err)
	}
	return engine.Destroyed(), nil
}

func tableOutput(name, arn string) map[string]any {
	return map[string]any{"name": name, "arn": arn}
}
