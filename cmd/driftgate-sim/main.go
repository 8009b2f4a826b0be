// Package main implements the driftgate-sim binary: a synthetic drift
// generator for exercising a driftgate deployment. It produces a sequence
// of batch descriptors for a fake dataset whose schema drifts over time
// (widened types, added nullable columns, and optionally a breaking change)
// and either writes them to disk or posts them to a running server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/driftgate/driftgate/pkg/types"
)

// batchDescriptor mirrors the /v1/validate request body.
type batchDescriptor struct {
	Dataset        string           `json:"dataset"`
	ObservedSchema types.Schema     `json:"observed_schema"`
	BatchStats     types.BatchStats `json:"batch_stats"`
}

func main() {
	var (
		dataset   string
		batches   int
		seed      int64
		outDir    string
		serverURL string
		breakAt   int
	)

	flag.StringVar(&dataset, "dataset", "", "Dataset name (random if empty)")
	flag.IntVar(&batches, "batches", 10, "Number of batches to generate")
	flag.Int64Var(&seed, "seed", 0, "Random seed (time-based if 0)")
	flag.StringVar(&outDir, "out", "", "Directory to write batch descriptor files to")
	flag.StringVar(&serverURL, "server", "", "Base URL of a running driftgate server to post batches to")
	flag.IntVar(&breakAt, "break-at", 0, "Batch index at which to inject a breaking change (0 disables)")
	flag.Parse()

	if outDir == "" && serverURL == "" {
		log.Fatalf("one of --out or --server is required")
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	rng := rand.New(rand.NewSource(seed))

	if dataset == "" {
		dataset = faker.Noun() + "_" + faker.Noun()
	}
	log.Printf("Simulating %d batches for dataset %s (seed=%d)", batches, dataset, seed)

	sim := newSimulator(dataset, faker, rng)

	if serverURL != "" {
		if err := registerDataset(serverURL, dataset, sim.fields); err != nil {
			log.Fatalf("Failed to register dataset: %v", err)
		}
	}

	for i := 1; i <= batches; i++ {
		desc := sim.next(i == breakAt)

		if outDir != "" {
			if err := writeBatch(outDir, dataset, i, desc); err != nil {
				log.Fatalf("Failed to write batch %d: %v", i, err)
			}
		}
		if serverURL != "" {
			if err := postBatch(serverURL, i, desc); err != nil {
				log.Fatalf("Failed to post batch %d: %v", i, err)
			}
		}
	}
}

// simulator evolves a fake schema over successive batches.
type simulator struct {
	dataset string
	faker   *gofakeit.Faker
	rng     *rand.Rand
	fields  []types.Field
}

func newSimulator(dataset string, faker *gofakeit.Faker, rng *rand.Rand) *simulator {
	return &simulator{
		dataset: dataset,
		faker:   faker,
		rng:     rng,
		fields: []types.Field{
			{Name: "id", Type: types.Integer()},
			{Name: "created_at", Type: types.Timestamp()},
			{Name: "amount", Type: types.Decimal(10, 2), Nullable: true},
			{Name: "status", Type: types.Str()},
		},
	}
}

// next produces the next batch, drifting the schema with some probability.
// A breaking batch narrows a type, which a safe-widening policy rejects.
func (s *simulator) next(breaking bool) batchDescriptor {
	switch {
	case breaking:
		s.narrowField()
	case s.rng.Float64() < 0.3:
		s.addNullableColumn()
	case s.rng.Float64() < 0.2:
		s.widenField()
	}

	return batchDescriptor{
		Dataset:        s.dataset,
		ObservedSchema: types.Schema{Dataset: s.dataset, Fields: types.WithOrdinals(s.fields)},
		BatchStats:     s.fakeStats(),
	}
}

// addNullableColumn appends a fresh nullable column with a random type.
func (s *simulator) addNullableColumn() {
	name := s.faker.Noun() + "_" + s.faker.Noun()
	for _, f := range s.fields {
		if f.Name == name {
			return
		}
	}
	tags := []types.TypeTag{
		types.Integer(), types.Float(), types.Str(),
		types.Boolean(), types.Timestamp(), types.Decimal(12, 4),
	}
	s.fields = append(s.fields, types.Field{
		Name:     name,
		Type:     tags[s.rng.Intn(len(tags))],
		Nullable: true,
	})
}

// widenField applies one safe widening to a random eligible field.
func (s *simulator) widenField() {
	for _, i := range s.rng.Perm(len(s.fields)) {
		switch s.fields[i].Type.Kind {
		case types.KindInteger:
			s.fields[i].Type = types.Float()
			return
		case types.KindFloat:
			s.fields[i].Type = types.Str()
			return
		case types.KindDecimal:
			t := s.fields[i].Type
			s.fields[i].Type = types.Decimal(t.Precision+2, t.Scale+1)
			return
		}
	}
}

// narrowField applies an unsafe change: STRING down to INTEGER.
func (s *simulator) narrowField() {
	for i := range s.fields {
		if s.fields[i].Type.Kind == types.KindString {
			s.fields[i].Type = types.Integer()
			return
		}
	}
}

// fakeStats generates plausible batch statistics for the current schema.
func (s *simulator) fakeStats() types.BatchStats {
	rowCount := int64(s.faker.Number(100, 100000))
	stats := types.BatchStats{
		RowCount: rowCount,
		Columns:  make(map[string]types.ColumnStats, len(s.fields)),
	}
	for _, f := range s.fields {
		stats.ColumnOrder = append(stats.ColumnOrder, f.Name)

		col := types.ColumnStats{}
		if f.Nullable {
			col.NullCount = types.Int64Ptr(int64(s.faker.Number(0, int(rowCount/10))))
		} else {
			col.NullCount = types.Int64Ptr(0)
		}
		switch f.Type.Kind {
		case types.KindInteger:
			lo := int64(s.faker.Number(0, 1000))
			col.Min, col.Max = lo, lo+int64(s.faker.Number(1, 100000))
			col.DistinctCount = types.Int64Ptr(rowCount)
		case types.KindFloat, types.KindDecimal:
			lo := s.faker.Float64Range(0, 500)
			col.Min, col.Max = lo, lo+s.faker.Float64Range(1, 100000)
		case types.KindString:
			col.DistinctCount = types.Int64Ptr(int64(s.faker.Number(1, int(rowCount))))
		case types.KindTimestamp:
			max := time.Now().UTC()
			col.Min = max.Add(-time.Duration(s.faker.Number(1, 72)) * time.Hour).Format(time.RFC3339)
			col.Max = max.Format(time.RFC3339)
		}
		stats.Columns[f.Name] = col
	}
	return stats
}

// writeBatch persists one descriptor as an indented JSON file.
func writeBatch(dir, dataset string, idx int, desc batchDescriptor) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-batch-%04d.json", dataset, idx))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Printf("Wrote %s", path)
	return nil
}

// registerDataset registers the initial schema, tolerating a server that
// already knows the dataset.
func registerDataset(baseURL, dataset string, fields []types.Field) error {
	body, err := json.Marshal(map[string]any{
		"dataset": dataset,
		"schema":  types.Schema{Dataset: dataset, Fields: types.WithOrdinals(fields)},
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL+"/v1/datasets", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		log.Printf("Registered dataset %s at version 1", dataset)
	case http.StatusConflict:
		log.Printf("Dataset %s already registered", dataset)
	default:
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload)
	}
	return nil
}

// postBatch sends one descriptor to a running server's validate endpoint.
func postBatch(baseURL string, idx int, desc batchDescriptor) error {
	body, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL+"/v1/validate", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("batch %d: server returned %d: %s", idx, resp.StatusCode, payload)
	}

	var rep struct {
		OverallStatus string `json:"overall_status"`
		SchemaVersion int    `json:"schema_version"`
		Reconciliation struct {
			Outcome string `json:"outcome"`
		} `json:"reconciliation"`
	}
	if err := json.Unmarshal(payload, &rep); err != nil {
		return fmt.Errorf("batch %d: bad response: %w", idx, err)
	}
	log.Printf("Batch %d: outcome=%s version=%d overall=%s",
		idx, rep.Reconciliation.Outcome, rep.SchemaVersion, rep.OverallStatus)
	return nil
}
