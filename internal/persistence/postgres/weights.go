package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthassistant/internal/energy"
)

// WeightHistory reads body-composition measurements.
type WeightHistory struct {
	pool *pgxpool.Pool
}

// NewWeightHistory constructs a WeightHistory.
func NewWeightHistory(pool *pgxpool.Pool) *WeightHistory {
	return &WeightHistory{pool: pool}
}

// RecentMeasurements returns up to limit readings taken before until, most recent first.
func (w *WeightHistory) RecentMeasurements(ctx context.Context, deviceID string, until time.Time, limit int) ([]energy.Measurement, error) {
	const query = `SELECT measured_at, weight_kg, lean_body_mass_kg
        FROM weight_measurements WHERE device_id=$1 AND measured_at < $2
        ORDER BY measured_at DESC LIMIT $3`

	rows, err := w.pool.Query(ctx, query, deviceID, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]energy.Measurement, 0, limit)
	for rows.Next() {
		var m energy.Measurement
		if err := rows.Scan(&m.MeasuredAt, &m.WeightKg, &m.LeanBodyMassKg); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
