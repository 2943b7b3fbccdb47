package geoingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/tingold/geoingest/schema"
)

func benchmarkRows(n int) []map[string]schema.Value {
	rows := make([]map[string]schema.Value, n)
	for i := range rows {
		rows[i] = pointRow(i)
	}
	return rows
}

func BenchmarkRead(b *testing.B) {
	table := mustLookup(b, schema.TagPoints)
	for _, n := range []int{100, 1000} {
		for _, format := range formats {
			path := writeFixture(b, format, table, benchmarkRows(n))
			b.Run(fmt.Sprintf("%s/%d", format, n), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					r, err := Open(context.Background(), path, table)
					if err != nil {
						b.Fatal(err)
					}
					count := 0
					for r.Next() {
						count++
					}
					if err := r.Err(); err != nil || count != n {
						b.Fatalf("read %d of %d features: %v", count, n, err)
					}
					_ = r.Close()
				}
			})
		}
	}
}

func BenchmarkWriteTemplate(b *testing.B) {
	table := mustLookup(b, schema.TagPoints)
	for _, format := range formats {
		b.Run(format.String(), func(b *testing.B) {
			dir := b.TempDir()
			for i := 0; i < b.N; i++ {
				tmpl, err := WriteTemplate(context.Background(), table, nestTypes, &TemplateOptions{Format: format, Dir: dir})
				if err != nil {
					b.Fatal(err)
				}
				_ = tmpl.Remove()
			}
		})
	}
}

func BenchmarkValidate(b *testing.B) {
	table := mustLookup(b, schema.TagPoints)
	r := &Reader{table: table}
	raw := &rawFeature{id: "1", attrs: map[string]any{}}
	for name, v := range pointRow(1) {
		raw.attrs[name] = v.Native()
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if f := r.validate(raw); !f.IsValid() {
			b.Fatalf("unexpected errors %v", f.Errors)
		}
	}
}
