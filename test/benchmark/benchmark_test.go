package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/pkg/types"
)

// wideSchema builds a schema with n columns cycling through the primitive
// kinds, the shape of a typical warehouse fact table.
func wideSchema(n int) types.Schema {
	fields := make([]types.Field, n)
	for i := range fields {
		var tag types.TypeTag
		switch i % 5 {
		case 0:
			tag = types.Integer()
		case 1:
			tag = types.Float()
		case 2:
			tag = types.Str()
		case 3:
			tag = types.Timestamp()
		default:
			tag = types.Decimal(18, 4)
		}
		fields[i] = types.Field{
			Name:     fmt.Sprintf("col_%03d", i),
			Type:     tag,
			Nullable: i%2 == 0,
		}
	}
	return types.Schema{Fields: types.WithOrdinals(fields)}
}

func BenchmarkFingerprint(b *testing.B) {
	for _, cols := range []int{10, 50, 200} {
		schema := wideSchema(cols)
		b.Run(fmt.Sprintf("cols_%d", cols), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				schema.Fingerprint()
			}
		})
	}
}

func BenchmarkSchemaEqual(b *testing.B) {
	for _, cols := range []int{10, 50, 200} {
		left := wideSchema(cols)
		right := wideSchema(cols)
		opts := types.DefaultCompare()
		b.Run(fmt.Sprintf("cols_%d", cols), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				left.Equal(right, opts)
			}
		})
	}
}

func BenchmarkReconcileUnchanged(b *testing.B) {
	for _, cols := range []int{10, 50, 200} {
		b.Run(fmt.Sprintf("cols_%d", cols), func(b *testing.B) {
			ctx := context.Background()
			reg := registry.NewMemoryRegistry()
			schema := wideSchema(cols)
			if _, err := reg.Register(ctx, "bench", schema); err != nil {
				b.Fatalf("Register: %v", err)
			}
			rec := reconcile.New(reg, reconcile.DefaultPolicy())

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := rec.Reconcile(ctx, "bench", schema); err != nil {
					b.Fatalf("Reconcile: %v", err)
				}
			}
		})
	}
}

func BenchmarkReconcileEvolved(b *testing.B) {
	// Every iteration adds a fresh nullable column, so each run takes the
	// full diff-append path and the registry head keeps advancing.
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	schema := wideSchema(50)
	stored, err := reg.Register(ctx, "bench", schema)
	if err != nil {
		b.Fatalf("Register: %v", err)
	}
	rec := reconcile.New(reg, reconcile.DefaultPolicy())

	observed := stored
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		observed = observed.Clone()
		observed.Fields = append(observed.Fields, types.Field{
			Name:     fmt.Sprintf("extra_%06d", i),
			Type:     types.Str(),
			Nullable: true,
		})
		outcome, err := rec.Reconcile(ctx, "bench", observed)
		if err != nil {
			b.Fatalf("Reconcile: %v", err)
		}
		observed = outcome.Schema
	}
}

func BenchmarkEngineEvaluate(b *testing.B) {
	schema := wideSchema(50)
	stats := types.BatchStats{RowCount: 1_000_000}
	for _, f := range schema.Fields {
		stats.ColumnOrder = append(stats.ColumnOrder, f.Name)
	}
	stats.Columns = map[string]types.ColumnStats{
		"col_000": {NullCount: types.Int64Ptr(0), DistinctCount: types.Int64Ptr(1_000_000), Min: 1.0, Max: 999999.0},
	}

	exps := []expect.Expectation{
		{ID: "rows", Kind: expect.KindRowCount, Params: map[string]any{"min": 1000}},
		{ID: "cols", Kind: expect.KindColumnCount, Params: map[string]any{"min": 10, "max": 100}},
		{ID: "key", Kind: expect.KindColumnExists, Column: "col_000"},
		{ID: "unique-key", Kind: expect.KindUniqueness, Column: "col_000"},
		{ID: "key-range", Kind: expect.KindValueRange, Column: "col_000", Params: map[string]any{"min": 0, "max": 1_000_000}},
	}
	engine := expect.NewEngine()
	input := expect.Input{Schema: schema, Stats: stats}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		engine.Evaluate(input, exps)
	}
}

func BenchmarkRegistryAppend(b *testing.B) {
	backends := map[string]func(b *testing.B) registry.Registry{
		"memory": func(b *testing.B) registry.Registry {
			return registry.NewMemoryRegistry()
		},
		"sqlite": func(b *testing.B) registry.Registry {
			reg, err := registry.NewSQLiteRegistry(filepath.Join(b.TempDir(), "bench.db"))
			if err != nil {
				b.Fatalf("open sqlite registry: %v", err)
			}
			return reg
		},
	}

	for name, open := range backends {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			reg := open(b)
			defer reg.Close()

			head, err := reg.Register(ctx, "bench", wideSchema(20))
			if err != nil {
				b.Fatalf("Register: %v", err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				next := head.Clone()
				next.Version = head.Version + 1
				next.Fields = append(next.Fields, types.Field{
					Name:     fmt.Sprintf("extra_%06d", i),
					Type:     types.Str(),
					Nullable: true,
				})
				next.Fields = types.WithOrdinals(next.Fields)
				rec := types.MigrationRecord{
					Dataset:     "bench",
					FromVersion: head.Version,
					ToVersion:   next.Version,
					Diff: types.EvolutionDiff{
						Added: []types.Field{next.Fields[len(next.Fields)-1]},
					},
				}
				head, err = reg.AppendVersion(ctx, "bench", next, rec)
				if err != nil {
					b.Fatalf("AppendVersion: %v", err)
				}
			}
		})
	}
}
