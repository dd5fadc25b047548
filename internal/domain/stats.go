package domain

import "time"

// CycleFilter сужает цикл оценки до проекта и/или работника.
type CycleFilter struct {
	ProjectID string `json:"project_id,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
}

// ZoneBreakdown — количество пар по зонам.
type ZoneBreakdown struct {
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
	Orange int `json:"orange"`
	Red    int `json:"red"`
}

func (b *ZoneBreakdown) Add(z Zone) {
	switch z {
	case ZoneYellow:
		b.Yellow++
	case ZoneOrange:
		b.Orange++
	case ZoneRed:
		b.Red++
	default:
		b.Green++
	}
}

func (b ZoneBreakdown) Count(z Zone) int {
	switch z {
	case ZoneYellow:
		return b.Yellow
	case ZoneOrange:
		return b.Orange
	case ZoneRed:
		return b.Red
	default:
		return b.Green
	}
}

// ActionTally — итог исполнения действий за цикл.
type ActionTally struct {
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// CycleSummary — итог одного цикла оценки.
type CycleSummary struct {
	CycleID       string        `json:"cycle_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Processed     int           `json:"processed"`
	Escalated     int           `json:"escalated"` // Не-зеленые пары
	Failed        int           `json:"failed"`    // Пары, которые не удалось оценить
	ZoneBreakdown ZoneBreakdown `json:"zone_breakdown"`
	Actions       ActionTally   `json:"actions"`
}

// RemovalMetrics — сводка по снятиям и апелляциям за окно.
type RemovalMetrics struct {
	TotalRemovals     int          `json:"total_removals"`
	RemovalRate       float64      `json:"removal_rate"`
	AppealRate        float64      `json:"appeal_rate"`
	ReinstatementRate float64      `json:"reinstatement_rate"`
	Trend             []TrendPoint `json:"trend"`
}

// TrendPoint — количество снятий за неделю (неделя начинается с понедельника).
type TrendPoint struct {
	Week     string `json:"week"`
	Removals int    `json:"removals"`
}
