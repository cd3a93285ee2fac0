// Package identity resolves the participant, run and task context of a navigation.
package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// Query parameters read from the page URL.
const (
	ParamParticipant = "RID"
	ParamRun         = "SID"
	ParamFrom        = "from"
)

// Unknown fills path segments that are missing.
const Unknown = "unknown"

// Store persists identifiers per client. storage.Repository implements it.
type Store interface {
	ParticipantID(ctx context.Context, clientID string) (string, error)
	SetParticipantID(ctx context.Context, clientID, id string) error
	RunID(ctx context.Context, clientID string) (string, error)
	SetRunID(ctx context.Context, clientID, id string) error
}

// Config holds resolution defaults.
type Config struct {
	DefaultParticipantID string
	DefaultRunID         string
	ProductTopics        []string
}

// Resolver derives a domain.Identity from a navigation and persisted state.
type Resolver struct {
	store    Store
	cfg      Config
	products map[string]struct{}
	log      logger.Logger
}

// NewResolver creates a resolver.
func NewResolver(store Store, cfg Config, log logger.Logger) *Resolver {
	products := make(map[string]struct{}, len(cfg.ProductTopics))
	for _, t := range cfg.ProductTopics {
		products[strings.ToLower(t)] = struct{}{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{store: store, cfg: cfg, products: products, log: log}
}

// Resolve returns the identity for nav. Storage failures are logged and the
// identifiers fall back to the query or the defaults.
func (r *Resolver) Resolve(ctx context.Context, nav domain.Navigation) domain.Identity {
	topic, treatment, page := ParsePath(r.originPath(nav))

	return domain.Identity{
		ParticipantID:  r.ParticipantID(ctx, nav),
		RunID:          r.RunID(ctx, nav),
		Topic:          topic,
		TreatmentGroup: treatment,
		TaskType:       r.TaskType(topic),
		Page:           page,
	}
}

// ParticipantID returns the persisted participant id, else RID, else the default.
func (r *Resolver) ParticipantID(ctx context.Context, nav domain.Navigation) string {
	return r.resolveID(ctx, nav, "participant_id", ParamParticipant, r.cfg.DefaultParticipantID,
		r.store.ParticipantID, r.store.SetParticipantID)
}

// RunID returns the persisted run id, else SID, else the default.
func (r *Resolver) RunID(ctx context.Context, nav domain.Navigation) string {
	return r.resolveID(ctx, nav, "sid", ParamRun, r.cfg.DefaultRunID, r.store.RunID, r.store.SetRunID)
}

func (r *Resolver) resolveID(
	ctx context.Context,
	nav domain.Navigation,
	name, param, fallback string,
	get func(context.Context, string) (string, error),
	set func(context.Context, string, string) error,
) string {
	stored, err := get(ctx, nav.ClientID)
	switch {
	case err == nil && stored != "":
		return stored
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		r.log.Warn("Failed to read persisted identifier",
			logger.String("identifier", name),
			logger.String("client_id", nav.ClientID),
			logger.Error(err),
		)
	}

	id := nav.Param(param)
	if id == "" || id == fallback {
		return fallback
	}

	if setErr := set(ctx, nav.ClientID, id); setErr != nil {
		r.log.Warn("Failed to persist identifier",
			logger.String("identifier", name),
			logger.String("client_id", nav.ClientID),
			logger.Error(setErr),
		)
	}
	return id
}

// TaskType maps a topic to product or info.
func (r *Resolver) TaskType(topic string) domain.TaskType {
	if _, ok := r.products[strings.ToLower(topic)]; ok {
		return domain.TaskTypeProduct
	}
	return domain.TaskTypeInfo
}

// originPath prefers the from parameter, which AI mode pages carry to point
// back at the results page they were opened from.
func (r *Resolver) originPath(nav domain.Navigation) string {
	if from := nav.Param(ParamFrom); from != "" {
		return from
	}
	return nav.Path
}

// ParsePath splits /Topic/mode/variant/page into topic, treatment group
// (mode_variant) and results page number (0 when absent or not numeric).
func ParsePath(path string) (topic, treatment string, page int) {
	segments := make([]string, 0, 4)
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	segment := func(i int) string {
		if i < len(segments) {
			return segments[i]
		}
		return Unknown
	}

	topic = segment(0)
	treatment = segment(1) + "_" + segment(2)
	if len(segments) > 3 {
		if n, err := strconv.Atoi(segments[3]); err == nil && n > 0 {
			page = n
		}
	}
	return topic, treatment, page
}
