// Package review implements the human resolution workflow over duplicate
// detections and pruning targets.
package review

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// Service resolves detections and pruning targets. Every mutation is
// all-or-nothing: on any error the call aborts and nothing downstream runs.
type Service struct {
	store store.Store
}

// NewService creates a review Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ListPendingDetections returns pending duplicate clusters joined with each
// member question's current style and tone names. Clusters whose members
// have since been deleted, or that retain fewer than two resolvable members,
// are filtered out rather than surfaced as errors: an orphaned reference is
// stale data, not a caller mistake.
func (s *Service) ListPendingDetections(ctx context.Context, limit int) ([]model.DetectionReview, error) {
	detections, err := s.store.ListDetections(ctx, store.DetectionFilter{
		Status: model.DetectionStatusPending,
		Limit:  limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: list detections")
	}
	if len(detections) == 0 {
		return nil, nil
	}

	styles, tones, err := s.referenceNames(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.DetectionReview
	for _, d := range detections {
		questions, err := s.store.ListQuestionsByIDs(ctx, d.QuestionIDs)
		if err != nil {
			return nil, eris.Wrapf(err, "review: load members of detection %s", d.ID)
		}

		members := make([]model.DetectionMember, 0, len(questions))
		for _, q := range questions {
			styleName, styleOK := styles[q.StyleID]
			toneName, toneOK := tones[q.ToneID]
			// A member referencing a style or tone that no longer exists is
			// as stale as a deleted member and is excluded the same way.
			if (q.StyleID != "" && !styleOK) || (q.ToneID != "" && !toneOK) {
				continue
			}
			members = append(members, model.DetectionMember{
				Question:  q,
				StyleName: styleName,
				ToneName:  toneName,
			})
		}
		if len(members) < 2 {
			zap.L().Debug("dropping detection with unresolvable members",
				zap.String("detection_id", d.ID),
				zap.Int("resolvable", len(members)),
			)
			continue
		}
		out = append(out, model.DetectionReview{Detection: d, Members: members})
	}
	return out, nil
}

func (s *Service) referenceNames(ctx context.Context) (map[string]string, map[string]string, error) {
	styleList, err := s.store.ListStyles(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "review: list styles")
	}
	toneList, err := s.store.ListTones(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "review: list tones")
	}

	styles := make(map[string]string, len(styleList))
	for _, st := range styleList {
		styles[st.ID] = st.Name
	}
	tones := make(map[string]string, len(toneList))
	for _, tn := range toneList {
		tones[tn.ID] = tn.Name
	}
	return styles, tones, nil
}

// ResolveMerge deletes every member in deleteIDs except keepID and marks the
// detection approved. The keeper survives even when the caller lists it in
// deleteIDs.
func (s *Service) ResolveMerge(ctx context.Context, detectionID, keepID string, deleteIDs []string) error {
	if keepID == "" {
		return errs.Validationf("merge requires a question to keep")
	}

	detection, err := s.store.GetDetection(ctx, detectionID)
	if err != nil {
		return eris.Wrapf(err, "review: load detection %s", detectionID)
	}
	if detection.Status != model.DetectionStatusPending {
		return errs.Validationf("detection %s already resolved (%s)", detectionID, detection.Status)
	}

	deleted := 0
	for _, id := range deleteIDs {
		if id == keepID {
			continue
		}
		if err := s.store.DeleteQuestion(ctx, id); err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return eris.Wrapf(err, "review: delete question %s", id)
		}
		deleted++
	}

	if err := s.store.UpdateDetectionStatus(ctx, detectionID, model.DetectionStatusApproved, "", ""); err != nil {
		return eris.Wrapf(err, "review: approve detection %s", detectionID)
	}

	zap.L().Info("duplicate cluster merged",
		zap.String("detection_id", detectionID),
		zap.String("keep_id", keepID),
		zap.Int("deleted", deleted),
	)
	return nil
}

// ResolveRejectFully marks the detection rejected, attributing the decision
// to the reviewer matching reviewerEmail when one is registered. An unknown
// email is kept verbatim so the decision is still attributable.
func (s *Service) ResolveRejectFully(ctx context.Context, detectionID, reviewerEmail, rejectReason string) error {
	detection, err := s.store.GetDetection(ctx, detectionID)
	if err != nil {
		return eris.Wrapf(err, "review: load detection %s", detectionID)
	}
	if detection.Status != model.DetectionStatusPending {
		return errs.Validationf("detection %s already resolved (%s)", detectionID, detection.Status)
	}

	reviewedBy := reviewerEmail
	if reviewerEmail != "" {
		reviewer, err := s.store.GetReviewerByEmail(ctx, reviewerEmail)
		if err != nil {
			return eris.Wrapf(err, "review: look up reviewer %s", reviewerEmail)
		}
		if reviewer != nil {
			reviewedBy = reviewer.ID
		}
	}

	if err := s.store.UpdateDetectionStatus(ctx, detectionID, model.DetectionStatusRejected, reviewedBy, rejectReason); err != nil {
		return eris.Wrapf(err, "review: reject detection %s", detectionID)
	}

	zap.L().Info("duplicate cluster rejected",
		zap.String("detection_id", detectionID),
		zap.String("reviewed_by", reviewedBy),
	)
	return nil
}

// ResolveDeleteAll deletes every member question of the detection and marks
// it approved. Members already gone are skipped.
func (s *Service) ResolveDeleteAll(ctx context.Context, detectionID string) error {
	detection, err := s.store.GetDetection(ctx, detectionID)
	if err != nil {
		return eris.Wrapf(err, "review: load detection %s", detectionID)
	}
	if detection.Status != model.DetectionStatusPending {
		return errs.Validationf("detection %s already resolved (%s)", detectionID, detection.Status)
	}

	deleted := 0
	for _, id := range detection.QuestionIDs {
		if err := s.store.DeleteQuestion(ctx, id); err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return eris.Wrapf(err, "review: delete question %s", id)
		}
		deleted++
	}

	if err := s.store.UpdateDetectionStatus(ctx, detectionID, model.DetectionStatusApproved, "", ""); err != nil {
		return eris.Wrapf(err, "review: approve detection %s", detectionID)
	}

	zap.L().Info("duplicate cluster deleted in full",
		zap.String("detection_id", detectionID),
		zap.Int("deleted", deleted),
	)
	return nil
}

// ApprovePruning prunes the flagged question and closes its target. The
// question's pruned marker is write-once; approving twice is harmless.
func (s *Service) ApprovePruning(ctx context.Context, targetID string) error {
	target, err := s.store.GetPruningTarget(ctx, targetID)
	if err != nil {
		return eris.Wrapf(err, "review: load pruning target %s", targetID)
	}
	if target.Status != model.PruningTargetStatusPending {
		return errs.Validationf("pruning target %s already resolved (%s)", targetID, target.Status)
	}

	if err := s.store.MarkQuestionPruned(ctx, target.QuestionID); err != nil {
		return eris.Wrapf(err, "review: prune question %s", target.QuestionID)
	}

	now := time.Now().UTC()
	if err := s.store.ResolvePruningTarget(ctx, targetID, model.PruningTargetStatusApproved, &now); err != nil {
		return eris.Wrapf(err, "review: approve pruning target %s", targetID)
	}

	zap.L().Info("pruning approved",
		zap.String("target_id", targetID),
		zap.String("question_id", target.QuestionID),
	)
	return nil
}

// RejectPruning closes the target as rejected. When the flagged question sits
// in an ambiguous state (unset or pending) it is reset to approved so the
// rejection leaves it cleanly in the pool; public and private questions keep
// their status.
func (s *Service) RejectPruning(ctx context.Context, targetID string) error {
	target, err := s.store.GetPruningTarget(ctx, targetID)
	if err != nil {
		return eris.Wrapf(err, "review: load pruning target %s", targetID)
	}
	if target.Status != model.PruningTargetStatusPending {
		return errs.Validationf("pruning target %s already resolved (%s)", targetID, target.Status)
	}

	question, err := s.store.GetQuestion(ctx, target.QuestionID)
	if err != nil && !errs.IsNotFound(err) {
		return eris.Wrapf(err, "review: load question %s", target.QuestionID)
	}
	if question != nil && (question.Status == "" || question.Status == model.QuestionStatusPending) {
		if err := s.store.SetQuestionStatus(ctx, question.ID, model.QuestionStatusApproved); err != nil {
			return eris.Wrapf(err, "review: reset question %s", question.ID)
		}
	}

	if err := s.store.ResolvePruningTarget(ctx, targetID, model.PruningTargetStatusRejected, nil); err != nil {
		return eris.Wrapf(err, "review: reject pruning target %s", targetID)
	}

	zap.L().Info("pruning rejected",
		zap.String("target_id", targetID),
		zap.String("question_id", target.QuestionID),
	)
	return nil
}
