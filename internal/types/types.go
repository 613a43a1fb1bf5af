// Package types holds the core domain entities shared across the cognition
// pipeline: interaction log rows, conversation state, the memory layers, and
// the audit records the router and regulators close their loops on.
package types

import "time"

// InteractionEvent is an append-only audit record of every externally
// observable fact. Rows are never mutated or deleted.
type InteractionEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"` // user_input | classification | system_response | ...
	Topic      string         `json:"topic,omitempty"`
	ExchangeID string         `json:"exchange_id,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ThreadState is the logical lifecycle of a conversation container.
type ThreadState string

const (
	ThreadActive  ThreadState = "active"
	ThreadExpired ThreadState = "expired"
)

// Thread is a conversation container keyed by (user, channel).
type Thread struct {
	ID            string      `json:"thread_id"`
	UserID        string      `json:"user_id"`
	ChannelID     string      `json:"channel_id"`
	State         ThreadState `json:"state"`
	CurrentTopic  string      `json:"current_topic,omitempty"`
	TopicHistory  []string    `json:"topic_history"`
	ExchangeCount int         `json:"exchange_count"`
	LastActivity  time.Time   `json:"last_activity"`
	Summary       string      `json:"summary,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Expired reports whether the thread has been idle past the expiry window.
func (t *Thread) Expired(now time.Time, expireAfter time.Duration) bool {
	return now.Sub(t.LastActivity) > expireAfter
}

// CycleType distinguishes how a MessageCycle was spawned.
type CycleType string

const (
	CycleUser         CycleType = "user"
	CycleToolFollowup CycleType = "tool_followup"
	CycleProactive    CycleType = "proactive"
	CycleScheduled    CycleType = "scheduled"
)

// CycleStatus is the lifecycle state of a MessageCycle.
type CycleStatus string

const (
	CyclePending   CycleStatus = "pending"
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)

// MessageCycle is one unit of processing through the digest pipeline.
//
// Invariant: RootCycleID == ID iff ParentCycleID == "". Depth ==
// parent.Depth+1 whenever a parent exists.
type MessageCycle struct {
	ID             string         `json:"cycle_id"`
	ParentCycleID  string         `json:"parent_cycle_id,omitempty"`
	RootCycleID    string         `json:"root_cycle_id"`
	ThreadID       string         `json:"thread_id"`
	Topic          string         `json:"topic"`
	Type           CycleType      `json:"cycle_type"`
	Status         CycleStatus    `json:"status"`
	Depth          int            `json:"depth"`
	Content        string         `json:"content"`
	Intent         map[string]any `json:"intent,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// IsRoot reports whether this cycle has no parent.
func (c *MessageCycle) IsRoot() bool { return c.ParentCycleID == "" }

// Topic is a semantic attractor threads attach messages to.
//
// Invariant: RollingEmbedding is always L2-normalized after an update.
type Topic struct {
	ID               string    `json:"topic_id"`
	Name             string    `json:"name"`
	MessageCount     int       `json:"message_count"`
	RollingEmbedding []float32 `json:"rolling_embedding"`
	AvgSalience      float64   `json:"avg_salience"`
	LastUpdated      time.Time `json:"last_updated"`
}

// IntentInfo captures an episode's directional intent.
type IntentInfo struct {
	Type      string `json:"type"`
	Direction string `json:"direction"`
}

// EpisodeContext captures the situational framing of an episode.
type EpisodeContext struct {
	Situational   string `json:"situational"`
	Conversational string `json:"conversational"`
	Constraints   string `json:"constraints"`
}

// EpisodeEmotion captures the affective arc of an episode.
type EpisodeEmotion struct {
	Type      string  `json:"type"`
	Valence   float64 `json:"valence"`
	Intensity float64 `json:"intensity"`
	Arc       string  `json:"arc"`
}

// SalienceFactors are the weighted inputs to an episode's salience score.
type SalienceFactors struct {
	Novelty    float64 `json:"novelty"`
	Emotional  float64 `json:"emotional"`
	Commitment float64 `json:"commitment"`
	Unresolved float64 `json:"unresolved"`
}

// SalienceWeights are the fixed weights used to combine SalienceFactors.
// Defaults per SPEC_FULL's Open Question decision: {0.3, 0.3, 0.3, 0.1}.
type SalienceWeights struct {
	Emotional  float64
	Commitment float64
	Novelty    float64
	Unresolved float64
}

// DefaultSalienceWeights is the fallback used when no config override exists.
var DefaultSalienceWeights = SalienceWeights{
	Emotional:  0.3,
	Commitment: 0.3,
	Novelty:    0.3,
	Unresolved: 0.1,
}

// Salience combines factors with the given weights.
func (f SalienceFactors) Salience(w SalienceWeights) float64 {
	return w.Emotional*f.Emotional + w.Commitment*f.Commitment +
		w.Novelty*f.Novelty + w.Unresolved*f.Unresolved
}

// Episode is a narrative consolidation of a session.
type Episode struct {
	ID string `json:"id"`
	// RootCycleID is the MessageCycle that produced this episode, the
	// natural key double-enqueue dedup is keyed on (spec.md §8).
	RootCycleID     string          `json:"root_cycle_id,omitempty"`
	Topic           string          `json:"topic"`
	Gist            string          `json:"gist"`
	Intent          IntentInfo      `json:"intent"`
	Context         EpisodeContext  `json:"context"`
	Action          string          `json:"action"`
	Emotion         EpisodeEmotion  `json:"emotion"`
	Outcome         string          `json:"outcome"`
	OpenLoops       []string        `json:"open_loops"`
	SalienceFactors SalienceFactors `json:"salience_factors"`
	Salience        float64         `json:"salience"`
	Freshness       float64         `json:"freshness"`
	Embedding       []float32       `json:"embedding"`
	AccessCount     int             `json:"access_count"`
	CreatedAt       time.Time       `json:"created_at"`
	LastAccessedAt  time.Time       `json:"last_accessed_at"`
}

// ConceptRelationType enumerates the edge kinds in the semantic graph.
type ConceptRelationType string

const (
	RelIsA            ConceptRelationType = "is-a"
	RelPartOf         ConceptRelationType = "part-of"
	RelRelatedTo      ConceptRelationType = "related-to"
	RelPrerequisiteFor ConceptRelationType = "prerequisite-for"
	RelEnables        ConceptRelationType = "enables"
	RelUsedFor        ConceptRelationType = "used-for"
	RelContradicts    ConceptRelationType = "contradicts"
	RelAlternativeTo  ConceptRelationType = "alternative-to"
)

// Concept is a node in the semantic graph.
type Concept struct {
	ID                string    `json:"id"`
	Name              string    `json:"concept_name"`
	Type              string    `json:"type"`
	Definition        string    `json:"definition"`
	Embedding         []float32 `json:"embedding"`
	AbstractionLevel  int       `json:"abstraction_level"`
	Strength          float64   `json:"strength"` // [1, 10]
	ActivationScore   float64   `json:"activation_score"` // [0, 1]
	AccessCount       int       `json:"access_count"`
	ConsolidationCount int      `json:"consolidation_count"`
	Confidence        float64   `json:"confidence"`
	UtilityScore      float64   `json:"utility_score"`
	DecayResistance   float64   `json:"decay_resistance"` // [0.5, 1]
	FirstLearned      time.Time `json:"first_learned"`
	LastAccessed      time.Time `json:"last_accessed"`
	LastReinforced    time.Time `json:"last_reinforced"`
}

// ConceptRelationship is a directed, typed edge between two concepts.
// Invariant: (Source, Target, Type) is unique.
type ConceptRelationship struct {
	SourceID      string              `json:"source_concept_id"`
	TargetID      string              `json:"target_concept_id"`
	Type          ConceptRelationType `json:"relationship_type"`
	Strength      float64             `json:"strength"` // [0, 1]
	Bidirectional bool                `json:"bidirectional"`
}

// Gist is an ephemeral, confidence-tagged summary of a single exchange.
// TTL 30 minutes.
type Gist struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fact is an ephemeral key->value memory with a confidence score.
// TTL 24h. Keys are snake_case.
type Fact struct {
	ThreadID   string    `json:"thread_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Turn is a single exchange held in working memory.
type Turn struct {
	Role      string    `json:"role"` // user | assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TraitCategory groups traits for decay-rate and prompting purposes.
type TraitCategory string

const (
	// TraitCategoryIdentity covers core self-concept traits ("is a night
	// owl", "identifies as a musician") — these barely decay.
	TraitCategoryIdentity TraitCategory = "identity"
	// TraitCategoryPreference covers likes/dislikes and working style,
	// which drift at a moderate rate as circumstances change.
	TraitCategoryPreference TraitCategory = "preference"
	// TraitCategoryFactual covers stable facts (employer, timezone,
	// relationships) that decay very slowly.
	TraitCategoryFactual TraitCategory = "factual"
	// TraitCategoryBehavioral covers transient mood/behavior patterns,
	// the fastest-decaying category.
	TraitCategoryBehavioral TraitCategory = "behavioral"
)

// TraitDecayRate returns the per-hour confidence decay rate for a trait
// category (spec.md §4.8: "trait decay (category-specific)"). Unrecognized
// categories fall back to the preference rate.
func TraitDecayRate(c TraitCategory) float64 {
	switch c {
	case TraitCategoryIdentity:
		return 0.001
	case TraitCategoryFactual:
		return 0.005
	case TraitCategoryBehavioral:
		return 0.02
	case TraitCategoryPreference:
		return 0.01
	default:
		return 0.01
	}
}

// TraitSource records whether a trait was stated or inferred.
type TraitSource string

const (
	TraitExplicit TraitSource = "explicit"
	TraitInferred TraitSource = "inferred"
)

// UserTrait is a per-user learned fact about preferences or identity.
// Unique by (UserID, TraitKey).
type UserTrait struct {
	UserID             string        `json:"user_id"`
	TraitKey           string        `json:"trait_key"`
	TraitValue         string        `json:"trait_value"`
	Category           TraitCategory `json:"category"`
	Confidence         float64       `json:"confidence"` // [0, 1]
	ReinforcementCount int           `json:"reinforcement_count"`
	LastReinforcedAt   time.Time     `json:"last_reinforced_at"`
	LastConflictAt     *time.Time    `json:"last_conflict_at,omitempty"`
	IsLiteral          bool          `json:"is_literal"`
	Source             TraitSource   `json:"source"`
	Embedding          []float32     `json:"embedding,omitempty"`
}

// IdentityDimension enumerates the six personality axes.
type IdentityDimension string

const (
	DimCuriosity         IdentityDimension = "curiosity"
	DimAssertiveness     IdentityDimension = "assertiveness"
	DimWarmth            IdentityDimension = "warmth"
	DimPlayfulness       IdentityDimension = "playfulness"
	DimSkepticism        IdentityDimension = "skepticism"
	DimEmotionalIntensity IdentityDimension = "emotional_intensity"
)

// IdentityVector holds one of the six personality dimensions' state.
//
// Invariant: |CurrentActivation - BaselineWeight| is bounded by
// PlasticityRate * window; per-day baseline drift <= 0.02.
type IdentityVector struct {
	Dimension        IdentityDimension `json:"dimension"`
	BaselineWeight   float64           `json:"baseline_weight"`
	CurrentActivation float64          `json:"current_activation"`
	MinCap           float64           `json:"min_cap"`
	MaxCap           float64           `json:"max_cap"`
	PlasticityRate   float64           `json:"plasticity_rate"`
	InertiaRate      float64           `json:"inertia_rate"`
	DriftToday       float64           `json:"drift_today"`
}

// Mode is one of the four routable behaviors.
type Mode string

const (
	ModeRespond     Mode = "RESPOND"
	ModeAct         Mode = "ACT"
	ModeClarify     Mode = "CLARIFY"
	ModeAcknowledge Mode = "ACKNOWLEDGE"
)

// AllModes is the fixed declaration order used to break score ties
// deterministically when ranking modes.
var AllModes = []Mode{ModeRespond, ModeAct, ModeClarify, ModeAcknowledge}

// RoutingDecision is the audit record of a single routing event.
// Immutable except for Reflection, which is appended later.
type RoutingDecision struct {
	ID              string             `json:"id"`
	Topic           string             `json:"topic"`
	ExchangeID      string             `json:"exchange_id"`
	SelectedMode    Mode               `json:"selected_mode"`
	RouterConfidence float64           `json:"router_confidence"`
	Scores          map[Mode]float64   `json:"scores"`
	TiebreakerUsed  bool               `json:"tiebreaker_used"`
	Margin          float64            `json:"margin"`
	EffectiveMargin float64            `json:"effective_margin"`
	SignalSnapshot  map[string]float64 `json:"signal_snapshot"`
	WeightSnapshot  map[string]float64 `json:"weight_snapshot"`
	Reflection      map[string]any     `json:"reflection,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// PersistentTaskStatus is the lifecycle of multi-session ACT work.
type PersistentTaskStatus string

const (
	TaskProposed    PersistentTaskStatus = "PROPOSED"
	TaskAccepted    PersistentTaskStatus = "ACCEPTED"
	TaskInProgress  PersistentTaskStatus = "IN_PROGRESS"
	TaskPaused      PersistentTaskStatus = "PAUSED"
	TaskCompleted   PersistentTaskStatus = "COMPLETED"
	TaskCancelled   PersistentTaskStatus = "CANCELLED"
	TaskExpired     PersistentTaskStatus = "EXPIRED"
)

// PersistentTask is multi-session ACT work advanced by the scheduler.
type PersistentTask struct {
	ID              string               `json:"id"`
	AccountID       string               `json:"account_id"`
	ThreadID        string               `json:"thread_id"`
	Goal            string               `json:"goal"`
	Scope           string               `json:"scope"`
	Status          PersistentTaskStatus `json:"status"`
	Priority        int                  `json:"priority"`
	Progress        map[string]any       `json:"progress"`
	IterationsUsed  int                  `json:"iterations_used"`
	MaxIterations   int                  `json:"max_iterations"`
	FatigueBudget   float64              `json:"fatigue_budget"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
	NextRunAfter    time.Time            `json:"next_run_after"`
	LastSummary     string               `json:"last_summary,omitempty"`
	CoverageEstimate float64             `json:"coverage_estimate"`
}

// EpisodeOutboxEntry is a pending semantic-queue handoff written in the
// same transaction as its episode, so a crash between the episode insert
// and the queue publish cannot strand the episode with no concept
// extraction (spec.md §5's transactional-outbox requirement).
type EpisodeOutboxEntry struct {
	ID         string    `json:"id"`
	EpisodeID  string    `json:"episode_id"`
	UserID     string    `json:"user_id"`
	ThreadID   string    `json:"thread_id"`
	Topic      string    `json:"topic"`
	Gist       string    `json:"gist"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScheduledItemType distinguishes a bare notification from a prompt that
// re-enters the digest pipeline.
type ScheduledItemType string

const (
	ItemNotification ScheduledItemType = "notification"
	ItemPrompt        ScheduledItemType = "prompt"
)

// ScheduledStatus is the lifecycle of a ScheduledItem.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledFired     ScheduledStatus = "fired"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

// ScheduledItem is a reminder or a re-entrant prompt.
// GroupID equals the root ID for recurring series.
type ScheduledItem struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"thread_id"`
	Type         ScheduledItemType `json:"item_type"`
	Message      string            `json:"message"`
	DueAt        time.Time         `json:"due_at"`
	Recurrence   string            `json:"recurrence,omitempty"`
	WindowStart  string            `json:"window_start,omitempty"` // HH:MM
	WindowEnd    string            `json:"window_end,omitempty"`   // HH:MM
	GroupID      string            `json:"group_id"`
	Status       ScheduledStatus   `json:"status"`
	LastFiredAt  *time.Time        `json:"last_fired_at,omitempty"`
	FailureCount int               `json:"failure_count"`
}

// MomentStage is the lifecycle of a pinned bookmark.
type MomentStage string

const (
	MomentEnriching MomentStage = "enriching"
	MomentSealed    MomentStage = "sealed"
	MomentForgotten MomentStage = "forgotten"
)

// ReflexClassifier names how a CognitiveReflex's trigger is evaluated.
type ReflexClassifier string

const (
	ReflexClassifyNone   ReflexClassifier = "none"   // always matches; used for a catch-all/default rule
	ReflexClassifyRegex  ReflexClassifier = "regex"
	ReflexClassifyOllama ReflexClassifier = "ollama" // deferred to the engine's own classifier step
)

// CognitiveReflex is a fast-path pattern-to-mode rule that bypasses the
// full Mode Router for high-confidence, low-stakes matches (SPEC_FULL §4.11).
type CognitiveReflex struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Classifier ReflexClassifier `json:"classifier"`
	Pattern    string           `json:"pattern"`
	TargetMode Mode             `json:"target_mode"`
	Response   string           `json:"response,omitempty"`
	Priority   int              `json:"priority"`
	Enabled    bool             `json:"enabled"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Moment is a user-pinned message bookmark.
type Moment struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id"`
	Content   string      `json:"content"`
	Stage     MomentStage `json:"stage"`
	CreatedAt time.Time   `json:"created_at"`
	SealedAt  *time.Time  `json:"sealed_at,omitempty"`
}
