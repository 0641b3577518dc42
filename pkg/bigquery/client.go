package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

// TableSpec describes a table the client writes to. Schema and PartitionField
// are only used when the table is missing and auto-creation is enabled.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	tables     []TableSpec
	autoCreate bool
	logg       *logger.Logger
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// NewClient creates a BigQuery client and checks the dataset and every table
// in specs. Missing tables are created when cfg.AutoCreateTables is set.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, specs []TableSpec, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables, err := normalizeSpecs(specs)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:     bqClient,
		dataset:    bqClient.Dataset(datasetID),
		tables:     tables,
		autoCreate: cfg.AutoCreateTables,
		logg:       logg,
	}
	if err := client.ensureDatasetAndTables(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"tables":  len(tables),
		}), "bigquery client initialized")
	}
	return client, nil
}

func normalizeSpecs(specs []TableSpec) ([]TableSpec, error) {
	out := make([]TableSpec, 0, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			continue
		}
		out = append(out, spec)
	}
	if len(out) == 0 {
		return nil, errTableNameRequired
	}
	return out, nil
}

// tableMetadata builds the metadata used to create a missing table.
func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	return meta
}

func (c *Client) ensureDatasetAndTables(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	for _, spec := range c.tables {
		if err := c.ensureTable(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureTable(ctx context.Context, spec TableSpec) error {
	table := c.dataset.Table(spec.Name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
		return nil
	case !isNotFound(err):
		return fmt.Errorf("checking table %q: %w", spec.Name, err)
	case !c.autoCreate || len(spec.Schema) == 0:
		return fmt.Errorf("table %q does not exist", spec.Name)
	}

	if err := table.Create(ctx, tableMetadata(spec)); err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", spec.Name, err)
	}
	if c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "table", spec.Name), "bigquery table created")
	}
	return nil
}

// Ping verifies the dataset and tables are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureDatasetAndTables(ctx)
}

// InsertRows streams rows into the given table of the configured dataset.
// Rows implementing bigquery.ValueSaver control their own insert ids.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return apiErrorCode(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiErrorCode(err) == http.StatusConflict
}

func apiErrorCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code
	}
	return 0
}
