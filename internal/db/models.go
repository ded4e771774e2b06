package db

import (
	"encoding/json"
	"time"
)

// ScheduledJob maps trend.scheduled_jobs. Rows are managed by operators;
// the scheduler only advances LastRunAt/NextRunAt.
type ScheduledJob struct {
	JobID     int64      `gorm:"column:job_id;primaryKey;autoIncrement"`
	JobUUID   string     `gorm:"column:job_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	JobName   string     `gorm:"column:job_name;type:text;not null;unique"`
	Cadence   string     `gorm:"column:cadence;type:text;not null"`
	Target    string     `gorm:"column:target;type:text;not null"`
	Enabled   bool       `gorm:"column:enabled;type:boolean;not null;default:true"`
	LastRunAt *time.Time `gorm:"column:last_run_at;type:timestamptz"`
	NextRunAt *time.Time `gorm:"column:next_run_at;type:timestamptz"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ScheduledJob) TableName() string { return "trend.scheduled_jobs" }

// JobExecution maps trend.job_executions. Append/finalize only.
type JobExecution struct {
	ExecutionID   int64      `gorm:"column:execution_id;primaryKey;autoIncrement"`
	ExecutionUUID string     `gorm:"column:execution_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	JobName       string     `gorm:"column:job_name;type:text;not null"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	CompletedAt   *time.Time `gorm:"column:completed_at;type:timestamptz"`
	Status        string     `gorm:"column:status;type:trend.execution_status;not null;default:running"`
	ErrorCode     *string    `gorm:"column:error_code;type:text"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
}

func (JobExecution) TableName() string { return "trend.job_executions" }

// EvidenceItem maps trend.evidence_items. Immutable after insert except
// for AggregatedAt, which the aggregator stamps when it folds the item.
type EvidenceItem struct {
	EvidenceID   int64           `gorm:"column:evidence_id;primaryKey;autoIncrement"`
	EvidenceUUID string          `gorm:"column:evidence_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceType   string          `gorm:"column:source_type;type:trend.source_type;not null"`
	Source       string          `gorm:"column:source;type:text;not null;default:''"`
	ExternalID   string          `gorm:"column:external_id;type:text;not null"`
	Title        string          `gorm:"column:title;type:text;not null"`
	Body         string          `gorm:"column:body;type:text;not null;default:''"`
	Entities     json.RawMessage `gorm:"column:entities;type:jsonb"`
	EventKey     string          `gorm:"column:event_key;type:text;not null"`
	DiscoveredAt time.Time       `gorm:"column:discovered_at;type:timestamptz;not null"`
	AggregatedAt *time.Time      `gorm:"column:aggregated_at;type:timestamptz"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EvidenceItem) TableName() string { return "trend.evidence_items" }

// TrendEvent maps trend.trend_events. Rows are never deleted; a merged
// event carries a non-null ClusterID and an aged-out event is excluded by
// a read-time filter on LastSeenAt.
type TrendEvent struct {
	EventID        int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID      string    `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	EventKey       string    `gorm:"column:event_key;type:text;not null"`
	CanonicalLabel string    `gorm:"column:canonical_label;type:text;not null"`
	PrimaryEntity  *string   `gorm:"column:primary_entity;type:text"`
	FirstSeenAt    time.Time `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt     time.Time `gorm:"column:last_seen_at;type:timestamptz;not null"`

	Current1h  int `gorm:"column:current_1h;type:integer;not null;default:0"`
	Current6h  int `gorm:"column:current_6h;type:integer;not null;default:0"`
	Current24h int `gorm:"column:current_24h;type:integer;not null;default:0"`

	Baseline7dRate      float64 `gorm:"column:baseline_7d_rate;type:double precision;not null;default:0"`
	Baseline7dStddev    float64 `gorm:"column:baseline_7d_stddev;type:double precision;not null;default:0"`
	Baseline30dRate     float64 `gorm:"column:baseline_30d_rate;type:double precision;not null;default:0"`
	BaselineSampleHours int     `gorm:"column:baseline_sample_hours;type:integer;not null;default:0"`

	Velocity       float64 `gorm:"column:velocity;type:double precision;not null;default:0"`
	PrevVelocity   float64 `gorm:"column:prev_velocity;type:double precision;not null;default:0"`
	Acceleration   float64 `gorm:"column:acceleration;type:double precision;not null;default:0"`
	ZScoreVelocity float64 `gorm:"column:z_score_velocity;type:double precision;not null;default:0"`

	ConfidenceScore float64 `gorm:"column:confidence_score;type:double precision;not null;default:0"`
	IsTrending      bool    `gorm:"column:is_trending;type:boolean;not null;default:false"`
	IsBreaking      bool    `gorm:"column:is_breaking;type:boolean;not null;default:false"`

	SourceCount   int    `gorm:"column:source_count;type:integer;not null;default:0"`
	EvidenceCount int    `gorm:"column:evidence_count;type:integer;not null;default:0"`
	ClusterID     *int64 `gorm:"column:cluster_id;type:bigint"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TrendEvent) TableName() string { return "trend.trend_events" }

// DuplicateCluster maps trend.duplicate_clusters.
type DuplicateCluster struct {
	ClusterID        int64     `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	ClusterUUID      string    `gorm:"column:cluster_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	CanonicalEventID int64     `gorm:"column:canonical_event_id;type:bigint;not null"`
	MergedAt         time.Time `gorm:"column:merged_at;type:timestamptz;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DuplicateCluster) TableName() string { return "trend.duplicate_clusters" }

// DuplicateClusterMember maps trend.duplicate_cluster_members.
type DuplicateClusterMember struct {
	ClusterID  int64   `gorm:"column:cluster_id;type:bigint;primaryKey"`
	EventID    int64   `gorm:"column:event_id;type:bigint;primaryKey"`
	Similarity float64 `gorm:"column:similarity;type:double precision;not null"`
}

func (DuplicateClusterMember) TableName() string { return "trend.duplicate_cluster_members" }

// DuplicateFlag maps trend.duplicate_flags: review-band pairs that are
// surfaced for manual inspection instead of being merged.
type DuplicateFlag struct {
	FlagID       int64     `gorm:"column:flag_id;primaryKey;autoIncrement"`
	LeftEventID  int64     `gorm:"column:left_event_id;type:bigint;not null"`
	RightEventID int64     `gorm:"column:right_event_id;type:bigint;not null"`
	Similarity   float64   `gorm:"column:similarity;type:double precision;not null"`
	Reason       string    `gorm:"column:reason;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DuplicateFlag) TableName() string { return "trend.duplicate_flags" }

func autoMigrateModels() []any {
	return []any{
		&ScheduledJob{},
		&JobExecution{},
		&EvidenceItem{},
		&TrendEvent{},
		&DuplicateCluster{},
		&DuplicateClusterMember{},
		&DuplicateFlag{},
	}
}
