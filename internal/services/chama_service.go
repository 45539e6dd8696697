package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chama-wallet-service/internal/models"
	"chama-wallet-service/pkg/common"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrGroupNotFound     = errors.New("group not found")
	ErrNotAdmin          = errors.New("only the group admin can start a collection")
	ErrNoEligibleMembers = errors.New("no eligible members with a positive contribution amount")
)

// ErrCycleActive is returned when a collection is already running and
// cannot be auto-closed; it names the blocking cycle.
type ErrCycleActive struct {
	CycleId uint
}

func (e ErrCycleActive) Error() string {
	return fmt.Sprintf("collection already active (cycle %d)", e.CycleId)
}

// StartCollectionInput controls one collection round. MemberIds, when
// set, restricts the fan-out to that subset of the group.
type StartCollectionInput struct {
	GroupId      uint
	RequestedBy  int
	MemberIds    []uint
	ExcludeAdmin bool
}

// MemberDispatchResult is the per-member outcome of the fan-out.
type MemberDispatchResult struct {
	MemberId uint                 `json:"member_id"`
	Phone    string               `json:"phone"`
	Amount   float64              `json:"amount"`
	Status   models.PaymentStatus `json:"status"`
	Error    string               `json:"error,omitempty"`
}

type StartCollectionResult struct {
	CycleId           uint                   `json:"cycle_id"`
	CycleNumber       int                    `json:"cycle_number"`
	RecipientMemberId uint                   `json:"recipient_member_id"`
	ExpectedAmount    float64                `json:"expected_amount"`
	Dispatched        int                    `json:"dispatched"`
	Failed            int                    `json:"failed"`
	Members           []MemberDispatchResult `json:"members"`
}

// ChamaService orchestrates collection cycles: recipient rotation,
// cycle bookkeeping, and the concurrent STK fan-out.
type ChamaService struct {
	DB      *gorm.DB
	Gateway GatewayAPI
	Helper  *HelperService

	now func() time.Time
}

func NewChamaService(db *gorm.DB, gateway GatewayAPI, helper *HelperService) *ChamaService {
	return &ChamaService{DB: db, Gateway: gateway, Helper: helper, now: time.Now}
}

// StartCollection begins a new collection round. Preconditions fail
// fast before any row is written; after the cycle and its member
// records exist, individual dispatch failures never abort the rest.
func (s *ChamaService) StartCollection(ctx context.Context, input StartCollectionInput) (*StartCollectionResult, error) {
	var group models.ChamaGroup
	if err := s.DB.First(&group, input.GroupId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}

	if group.AdminUserId != input.RequestedBy {
		return nil, ErrNotAdmin
	}

	if err := s.closeFinishedCycle(&group); err != nil {
		return nil, err
	}

	members, err := s.eligibleMembers(&group, input)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNoEligibleMembers
	}

	recipient := members[group.CurrentRotationIndex%len(members)]

	var expected float64
	amounts := make(map[uint]float64, len(members))
	for _, m := range members {
		amount := memberAmount(&group, &m)
		amounts[m.ID] = amount
		expected += amount
	}

	now := s.now()
	var lastCycleNo int
	s.DB.Model(&models.CollectionCycle{}).Where("group_id = ?", group.ID).Select("COALESCE(MAX(cycle_number), 0)").Scan(&lastCycleNo)

	cycle := models.CollectionCycle{
		GroupId:           group.ID,
		CycleNumber:       lastCycleNo + 1,
		Status:            models.CycleCollecting,
		RecipientMemberId: recipient.ID,
		ExpectedAmount:    expected,
		CollectionStart:   now,
		CollectionEnd:     now.Add(time.Duration(group.GracePeriodHours) * time.Hour),
		MembersPending:    len(members),
	}
	if err := s.DB.Create(&cycle).Error; err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}

	// Persist every member record before any network call, so each
	// member has a row even if its dispatch never completes.
	requests := make([]models.StkRequest, len(members))
	for i, m := range members {
		requests[i] = models.StkRequest{
			CycleId:       cycle.ID,
			MemberId:      m.ID,
			AccountNumber: fmt.Sprintf("CHM%d-%s", cycle.ID, common.GenerateTrxNo()),
			Amount:        amounts[m.ID],
			PhoneNumber:   m.PhoneNumber,
			GateName:      group.GateName,
			Status:        models.StatusPending,
			AttemptCount:  1,
			LastAttemptAt: now,
		}
		if err := s.DB.Create(&requests[i]).Error; err != nil {
			return nil, fmt.Errorf("create stk request for member %d: %w", m.ID, err)
		}
	}

	outcomes := s.fanOut(ctx, &group, requests)

	result := &StartCollectionResult{
		CycleId:           cycle.ID,
		CycleNumber:       cycle.CycleNumber,
		RecipientMemberId: recipient.ID,
		ExpectedAmount:    expected,
		Members:           outcomes,
	}
	for _, o := range outcomes {
		if o.Status == models.StatusSent {
			result.Dispatched++
		} else {
			result.Failed++
		}
	}

	if err := s.DB.Model(&models.CollectionCycle{}).Where("id = ?", cycle.ID).Updates(map[string]interface{}{
		"members_pending": result.Dispatched,
		"members_failed":  result.Failed,
	}).Error; err != nil {
		log.Error().Err(err).Uint("cycle_id", cycle.ID).Msg("cycle counter update failed")
	}

	log.Info().
		Uint("cycle_id", cycle.ID).
		Uint("group_id", group.ID).
		Int("dispatched", result.Dispatched).
		Int("failed", result.Failed).
		Msg("collection cycle started")

	return result, nil
}

// fanOut dispatches every member's push concurrently and waits for
// all of them. Sequential dispatch would multiply latency by the
// member count and risk timing the whole cycle out.
func (s *ChamaService) fanOut(ctx context.Context, group *models.ChamaGroup, requests []models.StkRequest) []MemberDispatchResult {
	results := make([]DispatchResult, len(requests))

	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &requests[i]
			results[i] = s.Gateway.DispatchSTK(ctx, req.PhoneNumber, req.Amount, req.GateName, group.Name, req.AccountNumber)
		}(i)
	}
	wg.Wait()

	outcomes := make([]MemberDispatchResult, len(requests))
	for i := range requests {
		req := &requests[i]
		res := results[i]
		outcome := MemberDispatchResult{
			MemberId: req.MemberId,
			Phone:    req.PhoneNumber,
			Amount:   req.Amount,
		}

		if res.Accepted {
			updates := map[string]interface{}{"status": models.StatusSent}
			if res.CorrelationId != "" {
				updates["checkout_request_id"] = res.CorrelationId
			}
			if err := s.DB.Model(&models.StkRequest{}).Where("id = ?", req.ID).Updates(updates).Error; err != nil {
				log.Error().Err(err).Uint("stk_request_id", req.ID).Msg("stk sent transition failed")
			}
			outcome.Status = models.StatusSent
		} else {
			if err := s.DB.Model(&models.StkRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
				"status":        models.StatusFailed,
				"error_message": res.RawError,
			}).Error; err != nil {
				log.Error().Err(err).Uint("stk_request_id", req.ID).Msg("stk failed transition failed")
			}
			outcome.Status = models.StatusFailed
			outcome.Error = res.RawError
		}
		outcomes[i] = outcome
	}
	return outcomes
}

// closeFinishedCycle enforces the one-open-cycle invariant. An open
// cycle whose member records are all terminal is closed out (completed
// only when every member succeeded); anything still in flight blocks
// the new round.
func (s *ChamaService) closeFinishedCycle(group *models.ChamaGroup) error {
	var cycle models.CollectionCycle
	err := s.DB.Where("group_id = ? AND status IN ?", group.ID,
		[]models.CycleStatus{models.CycleCollecting, models.CycleCollected}).
		Order("id desc").First(&cycle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load open cycle: %w", err)
	}

	var open int64
	if err := s.DB.Model(&models.StkRequest{}).
		Where("cycle_id = ? AND status IN ?", cycle.ID, models.OpenStatuses()).
		Count(&open).Error; err != nil {
		return fmt.Errorf("count open requests: %w", err)
	}
	if open > 0 {
		return ErrCycleActive{CycleId: cycle.ID}
	}

	var failed int64
	if err := s.DB.Model(&models.StkRequest{}).
		Where("cycle_id = ? AND status = ?", cycle.ID, models.StatusFailed).
		Count(&failed).Error; err != nil {
		return fmt.Errorf("count failed requests: %w", err)
	}

	final := models.CycleCompleted
	if failed > 0 {
		final = models.CycleFailed
	}
	if err := s.DB.Model(&models.CollectionCycle{}).Where("id = ?", cycle.ID).
		Update("status", final).Error; err != nil {
		return fmt.Errorf("close cycle: %w", err)
	}

	if final == models.CycleCompleted {
		// The recipient got their round; move the rotation along.
		if err := s.DB.Model(&models.ChamaGroup{}).Where("id = ?", group.ID).
			UpdateColumn("current_rotation_index", gorm.Expr("current_rotation_index + 1")).Error; err != nil {
			return fmt.Errorf("advance rotation: %w", err)
		}
		group.CurrentRotationIndex++
	}

	log.Info().Uint("cycle_id", cycle.ID).Str("status", string(final)).Msg("previous cycle auto-closed")
	return nil
}

func (s *ChamaService) eligibleMembers(group *models.ChamaGroup, input StartCollectionInput) ([]models.ChamaMember, error) {
	var members []models.ChamaMember
	q := s.DB.Where("group_id = ? AND status IN ?", group.ID, []string{models.MemberActive, models.MemberPending})
	if len(input.MemberIds) > 0 {
		q = q.Where("id IN ?", input.MemberIds)
	}
	if input.ExcludeAdmin {
		q = q.Where("user_id <> ?", group.AdminUserId)
	}
	if err := q.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	eligible := members[:0]
	for _, m := range members {
		if memberAmount(group, &m) > 0 {
			eligible = append(eligible, m)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].RotationPosition < eligible[j].RotationPosition
	})
	return eligible, nil
}

// memberAmount is the member's pledge for fundraising groups, or the
// group-wide contribution for fixed groups.
func memberAmount(group *models.ChamaGroup, m *models.ChamaMember) float64 {
	if group.GroupType == models.GroupTypeFundraising {
		return m.PledgeAmount
	}
	return group.ContributionAmount
}
