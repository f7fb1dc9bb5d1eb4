package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/compliance"
	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/strategies"
	"github.com/parishems/compliance/internal/utils"
)

// logFieldLimit caps free text copied into log lines.
const logFieldLimit = 200

// Outcome is the terminal result of an evaluation or exclusion request.
// Outcomes are values, not errors.
type Outcome string

const (
	OutcomeExcluded         Outcome = "excluded"
	OutcomeNotExcluded      Outcome = "not_excluded"
	OutcomeAlreadyExcluded  Outcome = "already_excluded"
	OutcomeAlreadyEvaluated Outcome = "already_evaluated"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeIneligible       Outcome = "ineligible"
	OutcomeUnknownResponse  Outcome = "unknown_response"
	OutcomeNoop             Outcome = "noop"
	OutcomeRestored         Outcome = "restored"
	OutcomeRequeued         Outcome = "requeued"
)

// EvaluationResult is what one end-to-end evaluation of a call produced.
type EvaluationResult struct {
	CallID           uint                 `json:"call_id"`
	CallRef          string               `json:"call_ref,omitempty"`
	ParishID         uint                 `json:"parish_id,omitempty"`
	Outcome          Outcome              `json:"outcome"`
	ResponseMinutes  *float64             `json:"response_minutes,omitempty"`
	ThresholdMinutes *float64             `json:"threshold_minutes,omitempty"`
	ThresholdSource  string               `json:"threshold_source,omitempty"`
	Compliant        *bool                `json:"compliant,omitempty"`
	NeedsReview      bool                 `json:"needs_review"`
	Decision         *strategies.Decision `json:"decision,omitempty"`
}

// EvaluateOptions carries batch-level inputs into a single evaluation.
type EvaluateOptions struct {
	// Rules is the snapshot the batch was started with; nil takes the current one.
	Rules *config.Rules
	// Window is a precomputed peak-load window for the call.
	Window *strategies.WindowStats
}

// ReviewNotifier tells human reviewers about calls flagged for review.
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, call *database.Call, flags []strategies.StrategyResult) error
}

// DecisionListener is told about every recorded evaluation.
type DecisionListener interface {
	DecisionRecorded(result EvaluationResult)
}

// ExclusionService runs the strategy engine against stored calls and applies
// decisions with their audit trail.
type ExclusionService struct {
	db     *gorm.DB
	engine *strategies.Engine
	rules  *config.RulesStore
	now    func() time.Time

	notifier  ReviewNotifier
	mu        sync.RWMutex
	listeners []DecisionListener
}

// NewExclusionService creates a new exclusion service
func NewExclusionService(db *gorm.DB, engine *strategies.Engine, rules *config.RulesStore) *ExclusionService {
	return &ExclusionService{
		db:     db,
		engine: engine,
		rules:  rules,
		now:    time.Now,
	}
}

// SetReviewNotifier sets the notifier for review flags. nil disables notifications.
func (s *ExclusionService) SetReviewNotifier(n ReviewNotifier) {
	s.notifier = n
}

// AddListener registers a listener for recorded evaluations.
func (s *ExclusionService) AddListener(l DecisionListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *ExclusionService) publish(result EvaluationResult) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l.DecisionRecorded(result)
	}
}

// Rules returns the current rules snapshot.
func (s *ExclusionService) Rules() *config.Rules {
	if s.rules == nil {
		return config.DefaultRules()
	}
	return s.rules.Snapshot()
}

// EvaluateCall classifies a stored call, runs the strategy engine and records
// the decision. Calls that are already excluded or already evaluated are left
// untouched.
func (s *ExclusionService) EvaluateCall(ctx context.Context, callID uint, opts EvaluateOptions) (*EvaluationResult, error) {
	var call database.Call
	if err := s.db.WithContext(ctx).First(&call, callID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &EvaluationResult{CallID: callID, Outcome: OutcomeNotFound}, nil
		}
		return nil, fmt.Errorf("failed to load call %d: %w", callID, err)
	}

	result := &EvaluationResult{CallID: call.ID, CallRef: call.CallID, ParishID: call.ParishID}
	if call.IsExcluded() {
		result.Outcome = OutcomeAlreadyExcluded
		return result, nil
	}
	if call.AutoEvaluated {
		result.Outcome = OutcomeAlreadyEvaluated
		return result, nil
	}

	rules := opts.Rules
	if rules == nil {
		rules = s.Rules()
	}
	threshold, source := rules.ThresholdsFor(call.RegionID).ResolveWithSource(call.ZoneName)
	if source == "" {
		source = "fallback"
	}
	cls := compliance.Classify(call.Timing(), threshold)
	result.ResponseMinutes = cls.ResponseMinutes
	result.ThresholdMinutes = &threshold
	result.ThresholdSource = source
	result.Compliant = cls.Compliant

	// Calls that cannot be scored never reach the strategies.
	var skipped Outcome
	switch {
	case !compliance.Eligible(call.PriorityCode, call.OnSceneTime):
		skipped = OutcomeIneligible
	case !cls.Known():
		skipped = OutcomeUnknownResponse
	}
	if skipped != "" {
		outcome, err := s.recordEvaluation(ctx, &call, cls, nil, skipped)
		if err != nil {
			return nil, err
		}
		result.Outcome = outcome
		if outcome == OutcomeNotExcluded {
			result.Outcome = skipped
		}
		return result, nil
	}

	callCtx := call.StrategyContext()
	callCtx.ResponseMinutes = cls.ResponseMinutes
	callCtx.ThresholdMinutes = threshold
	callCtx.Compliant = cls.Compliant
	callCtx.Window = opts.Window

	decision := s.engine.Evaluate(ctx, callCtx, rules.StrategiesFor(call.RegionID))
	result.Decision = &decision

	var outcome Outcome
	var err error
	if decision.IsExcluded {
		outcome, err = s.applyExclusion(ctx, &call, decision, &cls)
	} else {
		outcome, err = s.recordEvaluation(ctx, &call, cls, &decision, "")
	}
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome

	switch outcome {
	case OutcomeExcluded:
		log.Printf("Auto-excluded call %s via %s (confidence %.2f)", call.CallID, *decision.PrimaryStrategy, decision.Confidence)
		s.publish(*result)
	case OutcomeNotExcluded:
		flags := decision.ReviewFlags()
		result.NeedsReview = len(flags) > 0
		if result.NeedsReview {
			s.notifyReview(ctx, &call, flags)
		}
		s.publish(*result)
	}
	return result, nil
}

// Apply persists an excluding decision for a call. A non-excluding decision is
// a no-op. The exclusion, the evaluated flag and the audit entry are written in
// one transaction.
func (s *ExclusionService) Apply(ctx context.Context, callID uint, decision strategies.Decision) (Outcome, error) {
	if !decision.IsExcluded {
		return OutcomeNoop, nil
	}
	if err := decision.Validate(); err != nil {
		return "", err
	}

	var call database.Call
	if err := s.db.WithContext(ctx).First(&call, callID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeNotFound, nil
		}
		return "", fmt.Errorf("failed to load call %d: %w", callID, err)
	}
	if call.IsExcluded() {
		return OutcomeAlreadyExcluded, nil
	}

	outcome, err := s.applyExclusion(ctx, &call, decision, nil)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeExcluded {
		s.publish(EvaluationResult{CallID: call.ID, CallRef: call.CallID, ParishID: call.ParishID, Outcome: outcome, Decision: &decision})
	}
	return outcome, nil
}

func (s *ExclusionService) applyExclusion(ctx context.Context, call *database.Call, decision strategies.Decision, cls *compliance.Classification) (Outcome, error) {
	if err := decision.Validate(); err != nil {
		return "", err
	}
	doc, err := database.ToJSONB(decision)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	strategy := string(*decision.PrimaryStrategy)
	updates := map[string]interface{}{
		"exclusion_type":     database.ExclusionAuto,
		"exclusion_reason":   *decision.Reason,
		"exclusion_strategy": strategy,
		"exclusion_metadata": doc,
		"excluded_by":        nil,
		"excluded_at":        now,
		"auto_evaluated":     true,
		"auto_evaluated_at":  now,
		"evaluation_result":  doc,
	}
	if cls != nil {
		addClassification(updates, *cls)
	}

	outcome := OutcomeExcluded
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.Call{}).
			Where("id = ? AND exclusion_type = ? AND auto_evaluated = ?", call.ID, database.ExclusionNone, false).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to mark call excluded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			current, err := currentOutcome(tx, call.ID)
			outcome = current
			return err
		}

		entry := &database.AuditLogEntry{
			CallID:   call.ID,
			CallRef:  call.CallID,
			Action:   database.AuditAutoExclude,
			Decision: doc,
			Reason:   *decision.Reason,
			Metadata: database.JSONB{
				"engine_version":   decision.Metadata.EngineVersion,
				"primary_strategy": strategy,
				"confidence":       decision.Confidence,
			},
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// recordEvaluation marks a call evaluated without excluding it. decision is nil
// for calls that could not be scored, and skipped says why. A review flag is
// persisted with its own audit entry in the same transaction.
func (s *ExclusionService) recordEvaluation(ctx context.Context, call *database.Call, cls compliance.Classification, decision *strategies.Decision, skipped Outcome) (Outcome, error) {
	now := s.now().UTC()

	var doc database.JSONB
	var flags []strategies.StrategyResult
	if decision != nil {
		var err error
		if doc, err = database.ToJSONB(decision); err != nil {
			return "", err
		}
		flags = decision.ReviewFlags()
	} else {
		doc = database.JSONB{
			"outcome":        string(skipped),
			"priority_code":  call.PriorityCode,
			"has_queue_time": call.QueueTime != nil,
			"has_on_scene":   call.OnSceneTime != nil,
			"evaluated_at":   now,
		}
	}

	updates := map[string]interface{}{
		"auto_evaluated":    true,
		"auto_evaluated_at": now,
		"evaluation_result": doc,
	}
	addClassification(updates, cls)
	reviewReason := ""
	if len(flags) > 0 {
		reviewReason = joinReviewReasons(flags)
		updates["needs_review"] = true
		updates["review_reason"] = reviewReason
	}

	outcome := OutcomeNotExcluded
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.Call{}).
			Where("id = ? AND exclusion_type = ? AND auto_evaluated = ?", call.ID, database.ExclusionNone, false).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to record evaluation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			current, err := currentOutcome(tx, call.ID)
			outcome = current
			return err
		}
		if len(flags) == 0 {
			return nil
		}

		keys := make([]string, len(flags))
		for i, f := range flags {
			keys[i] = string(f.Strategy)
		}
		entry := &database.AuditLogEntry{
			CallID:   call.ID,
			CallRef:  call.CallID,
			Action:   database.AuditReviewFlag,
			Decision: doc,
			Reason:   reviewReason,
			Metadata: database.JSONB{"strategies": keys},
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// currentOutcome explains why a conditional update touched no row.
func currentOutcome(tx *gorm.DB, id uint) (Outcome, error) {
	var current database.Call
	if err := tx.Select("id", "exclusion_type", "auto_evaluated").First(&current, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeNotFound, nil
		}
		return "", err
	}
	if current.IsExcluded() {
		return OutcomeAlreadyExcluded, nil
	}
	return OutcomeAlreadyEvaluated, nil
}

func addClassification(updates map[string]interface{}, cls compliance.Classification) {
	updates["threshold_minutes"] = cls.ThresholdMinutes
	updates["response_minutes"] = cls.ResponseMinutes
	updates["is_compliant"] = cls.Compliant
}

func joinReviewReasons(flags []strategies.StrategyResult) string {
	reasons := make([]string, 0, len(flags))
	for _, f := range flags {
		if r, ok := f.Metadata[strategies.MetaReviewReason].(string); ok && r != "" {
			reasons = append(reasons, r)
			continue
		}
		reasons = append(reasons, f.Reason)
	}
	return strings.Join(reasons, "; ")
}

func (s *ExclusionService) notifyReview(ctx context.Context, call *database.Call, flags []strategies.StrategyResult) {
	if s.notifier == nil {
		return
	}
	settings, err := database.GetOrCreateEvaluationSettings(s.db.WithContext(ctx))
	if err != nil {
		log.Printf("Failed to load evaluation settings, notifying anyway: %v", err)
	} else if !settings.NotifyReviews {
		return
	}
	if err := s.notifier.NotifyReview(ctx, call, flags); err != nil {
		log.Printf("Failed to notify reviewers about call %s: %v", call.CallID, err)
	}
}

// ExcludeManually removes a call from the contract denominator on a person's
// authority.
func (s *ExclusionService) ExcludeManually(ctx context.Context, callID uint, reason, actor string) (Outcome, error) {
	now := s.now().UTC()
	outcome := OutcomeExcluded
	var call database.Call

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&call, callID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = OutcomeNotFound
				return nil
			}
			return err
		}
		res := tx.Model(&database.Call{}).
			Where("id = ? AND exclusion_type = ?", callID, database.ExclusionNone).
			Updates(map[string]interface{}{
				"exclusion_type":     database.ExclusionManual,
				"exclusion_reason":   reason,
				"exclusion_strategy": nil,
				"exclusion_metadata": nil,
				"excluded_by":        actor,
				"excluded_at":        now,
				"needs_review":       false,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to exclude call: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = OutcomeAlreadyExcluded
			return nil
		}
		return tx.Create(&database.AuditLogEntry{
			CallID:  call.ID,
			CallRef: call.CallID,
			Action:  database.AuditManualExclude,
			Actor:   &actor,
			Reason:  reason,
		}).Error
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeExcluded {
		log.Printf("Call %s manually excluded by %s: %s", call.CallID,
			utils.EscapeForLogging(actor, logFieldLimit), utils.EscapeForLogging(reason, logFieldLimit))
	}
	return outcome, nil
}

// RestoreCall returns an excluded call to the contract denominator. The call
// keeps its evaluated flag, so an automatic exclusion is not re-decided.
func (s *ExclusionService) RestoreCall(ctx context.Context, callID uint, actor, reason string) (Outcome, error) {
	outcome := OutcomeRestored
	var call database.Call

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&call, callID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = OutcomeNotFound
				return nil
			}
			return err
		}
		if !call.IsExcluded() {
			outcome = OutcomeNoop
			return nil
		}

		previous := exclusionSnapshot(&call)
		res := tx.Model(&database.Call{}).
			Where("id = ? AND exclusion_type = ?", callID, call.ExclusionType).
			Updates(map[string]interface{}{
				"exclusion_type":     database.ExclusionNone,
				"exclusion_reason":   nil,
				"exclusion_strategy": nil,
				"exclusion_metadata": nil,
				"excluded_by":        nil,
				"excluded_at":        nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to restore call: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = OutcomeNoop
			return nil
		}
		return tx.Create(&database.AuditLogEntry{
			CallID:   call.ID,
			CallRef:  call.CallID,
			Action:   database.AuditRestore,
			Actor:    &actor,
			Reason:   reason,
			Metadata: previous,
		}).Error
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeRestored {
		log.Printf("Call %s restored by %s: %s", call.CallID,
			utils.EscapeForLogging(actor, logFieldLimit), utils.EscapeForLogging(reason, logFieldLimit))
	}
	return outcome, nil
}

// Requeue clears an automatic decision so the next sweep evaluates the call
// again. Manually excluded calls are left alone.
func (s *ExclusionService) Requeue(ctx context.Context, callID uint, actor string) (Outcome, error) {
	outcome := OutcomeRequeued
	var call database.Call

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&call, callID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = OutcomeNotFound
				return nil
			}
			return err
		}
		if call.ExclusionType == database.ExclusionManual || (!call.AutoEvaluated && !call.IsExcluded()) {
			outcome = OutcomeNoop
			return nil
		}

		previous := exclusionSnapshot(&call)
		res := tx.Model(&database.Call{}).
			Where("id = ? AND exclusion_type IN ?", callID, []database.ExclusionType{database.ExclusionNone, database.ExclusionAuto}).
			Updates(map[string]interface{}{
				"exclusion_type":     database.ExclusionNone,
				"exclusion_reason":   nil,
				"exclusion_strategy": nil,
				"exclusion_metadata": nil,
				"excluded_at":        nil,
				"auto_evaluated":     false,
				"auto_evaluated_at":  nil,
				"evaluation_result":  nil,
				"needs_review":       false,
				"review_reason":      nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to requeue call: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = OutcomeNoop
			return nil
		}
		return tx.Create(&database.AuditLogEntry{
			CallID:   call.ID,
			CallRef:  call.CallID,
			Action:   database.AuditRequeue,
			Actor:    &actor,
			Reason:   "requeued for automatic evaluation",
			Metadata: previous,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func exclusionSnapshot(call *database.Call) database.JSONB {
	snap := database.JSONB{
		"previous_exclusion_type": string(call.ExclusionType),
		"previous_auto_evaluated": call.AutoEvaluated,
		"previous_needs_review":   call.NeedsReview,
	}
	if call.ExclusionStrategy != nil {
		snap["previous_strategy"] = *call.ExclusionStrategy
	}
	if call.ExclusionReason != nil {
		snap["previous_reason"] = *call.ExclusionReason
	}
	if len(call.ExclusionMetadata) > 0 {
		snap["previous_decision"] = map[string]interface{}(call.ExclusionMetadata)
	}
	return snap
}

// AuditLog returns every audit entry for a call, oldest first.
func (s *ExclusionService) AuditLog(ctx context.Context, callID uint) ([]database.AuditLogEntry, error) {
	var entries []database.AuditLogEntry
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}
	return entries, nil
}

// DecisionFromAudit rebuilds the engine decision stored on an audit entry.
func DecisionFromAudit(entry database.AuditLogEntry) (*strategies.Decision, error) {
	if len(entry.Decision) == 0 {
		return nil, fmt.Errorf("audit entry %s carries no decision", entry.UUID)
	}
	var d strategies.Decision
	if err := entry.Decision.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode decision: %w", err)
	}
	return &d, nil
}

// UnevaluatedCalls returns up to limit calls awaiting automatic evaluation,
// oldest queue time first.
func (s *ExclusionService) UnevaluatedCalls(ctx context.Context, limit int) ([]database.Call, error) {
	q := s.db.WithContext(ctx).
		Where("auto_evaluated = ? AND exclusion_type = ?", false, database.ExclusionNone).
		Order("queue_time ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []database.Call
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load unevaluated calls: %w", err)
	}
	return out, nil
}
