package ledger

import (
	"daypass/src/db"
	"daypass/src/models"
	"daypass/src/types"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type LedgerSuite struct {
	suite.Suite
	DB  *gorm.DB
	Now time.Time
}

func (s *LedgerSuite) SetupTest() {
	d, err := db.NewMemoryDB("ledger_"+uuid.NewString(), models.All()...)
	s.Require().NoError(err)
	s.DB = d
	s.Now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *LedgerSuite) newPass(status types.PassStatus) *models.Pass {
	p := models.Pass{
		OrgID:      uuid.New(),
		DeviceID:   uuid.New(),
		PassTypeID: uuid.New(),
		Status:     status,
	}
	s.Require().NoError(s.DB.Create(&p).Error)
	return &p
}

func (s *LedgerSuite) TestActivatePass() {
	p := s.newPass(types.PASS_PENDING)
	from, to := s.Now, s.Now.Add(24*time.Hour)

	pass, wasActive, err := ActivatePass(s.DB, p.ID, from, to)
	s.Require().NoError(err)
	s.False(wasActive)
	s.Equal(types.PASS_ACTIVE, pass.Status)

	stored, err := GetPass(s.DB, p.ID)
	s.Require().NoError(err)
	s.Equal(types.PASS_ACTIVE, stored.Status)
	s.Require().NotNil(stored.ValidFrom)
	s.Require().NotNil(stored.ValidTo)
	s.True(stored.ValidTo.After(*stored.ValidFrom))

	s.Run("second activation is a no-op", func() {
		_, wasActive, err := ActivatePass(s.DB, p.ID, from.Add(time.Hour), to.Add(time.Hour))
		s.Require().NoError(err)
		s.True(wasActive)
		again, _ := GetPass(s.DB, p.ID)
		s.True(again.ValidFrom.Equal(from))
	})

	s.Run("rejects an empty window", func() {
		_, _, err := ActivatePass(s.DB, p.ID, to, from)
		s.ErrorIs(err, ErrInvalidWindow)
	})

	s.Run("unknown pass", func() {
		_, _, err := ActivatePass(s.DB, uuid.New(), from, to)
		s.ErrorIs(err, ErrPassNotFound)
	})
}

func (s *LedgerSuite) TestUpsertPaymentSucceeded() {
	p := s.newPass(types.PASS_PENDING)
	intent := "pi_123"
	pending := models.Payment{PassID: p.ID, ProviderPaymentIntent: &intent, AmountCents: 1500, Currency: "aud"}
	s.Require().NoError(s.DB.Create(&pending).Error)

	got, err := UpsertPaymentSucceeded(s.DB, p.ID, PaymentRef{SessionID: "cs_1", IntentID: intent, AmountCents: 1500, Currency: "aud"})
	s.Require().NoError(err)
	s.Equal(pending.ID, got.ID)

	// the follow-up event only knows the intent
	got2, err := UpsertPaymentSucceeded(s.DB, p.ID, PaymentRef{IntentID: intent})
	s.Require().NoError(err)
	s.Equal(pending.ID, got2.ID)

	var payments []models.Payment
	s.Require().NoError(s.DB.Where("pass_id = ?", p.ID).Find(&payments).Error)
	s.Require().Len(payments, 1)
	s.Equal(types.PAYMENT_SUCCEEDED, payments[0].Status)
	s.Require().NotNil(payments[0].ProviderCheckoutSession)
	s.Equal("cs_1", *payments[0].ProviderCheckoutSession)
}

func (s *LedgerSuite) TestUpsertPaymentCreatesWhenMissing() {
	p := s.newPass(types.PASS_PENDING)
	got, err := UpsertPaymentSucceeded(s.DB, p.ID, PaymentRef{SessionID: "cs_new", AmountCents: 900, Currency: "aud"})
	s.Require().NoError(err)
	s.Equal(types.PAYMENT_SUCCEEDED, got.Status)

	_, err = UpsertPaymentSucceeded(s.DB, p.ID, PaymentRef{SessionID: "cs_new"})
	s.Require().NoError(err)
	var count int64
	s.DB.Model(&models.Payment{}).Where("pass_id = ?", p.ID).Count(&count)
	s.EqualValues(1, count)
}

func (s *LedgerSuite) TestUpsertLockCodeKeepsExistingCode() {
	p := s.newPass(types.PASS_ACTIVE)
	in := LockCodeInput{PassID: p.ID, Code: "123456", Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)}

	lc, err := UpsertLockCode(s.DB, in)
	s.Require().NoError(err)
	s.Equal("123456", *lc.Code)
	s.Equal(types.LOCK_CODE_ACTIVE, lc.Status)
	s.Equal(p.ID.String(), lc.ProviderRef)

	in.Code = "654321"
	lc, err = UpsertLockCode(s.DB, in)
	s.Require().NoError(err)
	s.Equal("123456", *lc.Code)

	var count int64
	s.DB.Model(&models.LockCode{}).Where("pass_id = ?", p.ID).Count(&count)
	s.EqualValues(1, count)
}

func (s *LedgerSuite) TestUpsertLockCodeFillsPending() {
	p := s.newPass(types.PASS_ACTIVE)
	lc, err := UpsertLockCode(s.DB, LockCodeInput{PassID: p.ID, Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)})
	s.Require().NoError(err)
	s.Nil(lc.Code)
	s.Equal(types.LOCK_CODE_PENDING, lc.Status)

	lc, err = UpsertLockCode(s.DB, LockCodeInput{PassID: p.ID, Code: "2468", Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)})
	s.Require().NoError(err)
	s.Require().NotNil(lc.Code)
	s.Equal("2468", *lc.Code)
	s.Equal(types.LOCK_CODE_ACTIVE, lc.Status)
}

func (s *LedgerSuite) TestAssignProviderCode() {
	p := s.newPass(types.PASS_ACTIVE)
	_, err := UpsertLockCode(s.DB, LockCodeInput{PassID: p.ID, Code: "1111", Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)})
	s.Require().NoError(err)

	lc, err := AssignProviderCode(s.DB, p.ID.String(), "9090")
	s.Require().NoError(err)
	s.Equal("9090", *lc.Code)
	s.Equal(types.PIN_PROVIDER_ROOMS, lc.Provider)

	_, err = AssignProviderCode(s.DB, uuid.NewString(), "9090")
	s.ErrorIs(err, ErrLockCodeNotFound)
}

func (s *LedgerSuite) TestClaimEmailOnce() {
	p := s.newPass(types.PASS_ACTIVE)
	_, err := UpsertLockCode(s.DB, LockCodeInput{PassID: p.ID, Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)})
	s.Require().NoError(err)

	ok, err := ClaimEmail(s.DB, p.ID, s.Now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = ClaimEmail(s.DB, p.ID, s.Now)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *LedgerSuite) TestFailPaymentAndCleanup() {
	p := s.newPass(types.PASS_PENDING)
	intent := "pi_fail"
	s.Require().NoError(s.DB.Create(&models.Payment{PassID: p.ID, ProviderPaymentIntent: &intent}).Error)
	_, err := UpsertLockCode(s.DB, LockCodeInput{PassID: p.ID, Code: "999999", Provider: types.PIN_PROVIDER_BACKUP, StartsAt: s.Now, EndsAt: s.Now.Add(time.Hour)})
	s.Require().NoError(err)

	n, err := DeleteLockCode(s.DB, p.ID)
	s.Require().NoError(err)
	s.EqualValues(1, n)
	s.Require().NoError(CancelPass(s.DB, p.ID))
	s.Require().NoError(FailPayment(s.DB, p.ID, intent, "card_declined"))

	_, err = GetLockCode(s.DB, p.ID)
	s.ErrorIs(err, ErrLockCodeNotFound)
	pass, _ := GetPass(s.DB, p.ID)
	s.Equal(types.PASS_CANCELLED, pass.Status)
	payment, err := LatestPayment(s.DB, p.ID)
	s.Require().NoError(err)
	s.Equal(types.PAYMENT_FAILED, payment.Status)
	s.Equal("card_declined", *payment.FailureReason)
}

func (s *LedgerSuite) TestFailPaymentWithoutRow() {
	p := s.newPass(types.PASS_PENDING)
	s.Require().NoError(FailPayment(s.DB, p.ID, "pi_x", ""))
	payment, err := LatestPayment(s.DB, p.ID)
	s.Require().NoError(err)
	s.Equal(types.PAYMENT_FAILED, payment.Status)
}

func (s *LedgerSuite) TestClaimEvent() {
	ev := EventRecord{ID: "evt_1", Provider: "stripe", EventType: "checkout.session.completed", Payload: "{}"}

	res, err := ClaimEvent(s.DB, ev, s.Now, 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(ClaimAcquired, res)

	res, err = ClaimEvent(s.DB, ev, s.Now.Add(time.Minute), 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(ClaimInFlight, res)

	res, err = ClaimEvent(s.DB, ev, s.Now.Add(10*time.Minute), 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(ClaimAcquired, res, "stale processing rows are reclaimable")

	s.Require().NoError(FailEvent(s.DB, ev.ID, errors.New("boom")))
	res, err = ClaimEvent(s.DB, ev, s.Now.Add(11*time.Minute), 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(ClaimAcquired, res, "failed rows are reclaimable")

	s.Require().NoError(CompleteEvent(s.DB, ev.ID, s.Now))
	res, err = ClaimEvent(s.DB, ev, s.Now.Add(12*time.Minute), 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(ClaimDuplicate, res)

	var row models.ProcessedWebhookEvent
	s.Require().NoError(s.DB.First(&row, "id = ?", ev.ID).Error)
	s.Equal(3, row.Attempts)
	s.Nil(row.LastError)
}

func (s *LedgerSuite) TestRecoverableEvents() {
	stale := EventRecord{ID: "evt_stale", Provider: "stripe"}
	fresh := EventRecord{ID: "evt_fresh", Provider: "stripe"}
	failed := EventRecord{ID: "evt_failed", Provider: "stripe"}
	done := EventRecord{ID: "evt_done", Provider: "stripe"}
	for _, ev := range []EventRecord{stale, failed, done} {
		_, err := ClaimEvent(s.DB, ev, s.Now, time.Minute)
		s.Require().NoError(err)
	}
	_, err := ClaimEvent(s.DB, fresh, s.Now.Add(9*time.Minute), time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(FailEvent(s.DB, failed.ID, errors.New("db down")))
	s.Require().NoError(CompleteEvent(s.DB, done.ID, s.Now))

	events, err := RecoverableEvents(s.DB, s.Now.Add(10*time.Minute), 5*time.Minute, 5, 10)
	s.Require().NoError(err)
	ids := []string{}
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	s.ElementsMatch([]string{"evt_stale", "evt_failed"}, ids)
}

func (s *LedgerSuite) TestAppendOutboxEventOncePerPass() {
	p := s.newPass(types.PASS_ACTIVE)
	ok, err := AppendOutboxEvent(s.DB, p.OrgID, p.ID, types.TOPIC_PASS_PAID, types.JSONB{"pin_code": "1"}, s.Now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = AppendOutboxEvent(s.DB, p.OrgID, p.ID, types.TOPIC_PASS_PAID, types.JSONB{"pin_code": "1"}, s.Now)
	s.Require().NoError(err)
	s.False(ok)

	dup := models.OutboxEvent{OrgID: p.OrgID, AggregateID: p.ID, Topic: types.TOPIC_PASS_PAID, OccurredAt: s.Now}
	s.Error(s.DB.Create(&dup).Error, "aggregate and topic are unique")

	var count int64
	s.Require().NoError(s.DB.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", p.ID).Count(&count).Error)
	s.EqualValues(1, count)
}

func (s *LedgerSuite) TestActivateCancelledPass() {
	p := s.newPass(types.PASS_CANCELLED)

	pass, wasActive, err := ActivatePass(s.DB, p.ID, s.Now, s.Now.Add(24*time.Hour))
	s.Require().NoError(err)
	s.False(wasActive)
	s.Equal(types.PASS_ACTIVE, pass.Status)
	stored, err := GetPass(s.DB, p.ID)
	s.Require().NoError(err)
	s.Equal(types.PASS_ACTIVE, stored.Status)
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func TestUpsertLockCodeConcurrent(t *testing.T) {
	d, err := db.NewMemoryDB("ledger_concurrent_"+uuid.NewString(), models.All()...)
	require.NoError(t, err)
	p := models.Pass{OrgID: uuid.New(), DeviceID: uuid.New(), PassTypeID: uuid.New(), Status: types.PASS_ACTIVE}
	require.NoError(t, d.Create(&p).Error)

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Transaction(func(tx *gorm.DB) error {
				_, err := UpsertLockCode(tx, LockCodeInput{PassID: p.ID, Code: "4321", Provider: types.PIN_PROVIDER_BACKUP, StartsAt: now, EndsAt: now.Add(time.Hour)})
				return err
			})
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, d.Model(&models.LockCode{}).Where("pass_id = ?", p.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAppendOutboxEventConcurrent(t *testing.T) {
	d, err := db.NewMemoryDB("ledger_outbox_"+uuid.NewString(), models.All()...)
	require.NoError(t, err)
	orgID, passID := uuid.New(), uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := AppendOutboxEvent(d, orgID, passID, types.TOPIC_PASS_PAID, types.JSONB{"pin_code": "4321"}, time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				written++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, d.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", passID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, written)
}
