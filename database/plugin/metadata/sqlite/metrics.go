// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (d *MetadataStoreSqlite) registerMetrics() {
	if d.promRegistry == nil {
		return
	}
	d.rowsWritten = promauto.With(d.promRegistry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_metadata_rows_written_total",
			Help: "Total audit rows written, by table",
		},
		[]string{"table"},
	)
}

func (d *MetadataStoreSqlite) observeWrite(table string) {
	if d.rowsWritten == nil {
		return
	}
	d.rowsWritten.WithLabelValues(table).Inc()
}

// RowsWritten returns the write counter, or nil without a metrics registry
func (d *MetadataStoreSqlite) RowsWritten() *prometheus.CounterVec {
	return d.rowsWritten
}
