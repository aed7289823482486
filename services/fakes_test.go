package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

var errStorage = errors.New("storage unavailable")

// memCommissions is an in-memory CommissionStore. Like the unique index, it rejects a
// second record for the same tuple no matter what the caller checked beforehand.
type memCommissions struct {
	mu      sync.Mutex
	records map[primitive.ObjectID]*models.CommissionRecord
	byKey   map[models.CommissionKey]primitive.ObjectID

	// failInserts makes the next n Insert calls fail with errStorage
	failInserts int
	// hideExisting makes FindByKey miss, as when two writers race past the lookup
	hideExisting bool
	// lostAcks makes the next n Insert calls store the record and still fail
	lostAcks int
	// afterClaim runs under the lock once a marker is claimed
	afterClaim func(rec *models.CommissionRecord)
	inserts    int
}

func newMemCommissions() *memCommissions {
	return &memCommissions{
		records: map[primitive.ObjectID]*models.CommissionRecord{},
		byKey:   map[models.CommissionKey]primitive.ObjectID{},
	}
}

func cloneRecord(r *models.CommissionRecord) *models.CommissionRecord {
	c := *r
	if r.TotalsSync != nil {
		m := *r.TotalsSync
		c.TotalsSync = &m
	}
	if r.PaidAt != nil {
		t := *r.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func (m *memCommissions) Insert(ctx context.Context, rec *models.CommissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInserts > 0 {
		m.failInserts--
		return errStorage
	}
	if _, ok := m.byKey[rec.Key()]; ok {
		return repositories.ErrDuplicateCommission
	}
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	m.inserts++
	m.records[rec.ID] = cloneRecord(rec)
	m.byKey[rec.Key()] = rec.ID
	if m.lostAcks > 0 {
		m.lostAcks--
		return errStorage
	}
	return nil
}

func (m *memCommissions) FindByKey(ctx context.Context, key models.CommissionKey) (*models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok || m.hideExisting {
		if ok && m.hideExisting {
			// only the first lookup is blind
			m.hideExisting = false
		}
		return nil, repositories.ErrNotFound
	}
	return cloneRecord(m.records[id]), nil
}

func (m *memCommissions) FindByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *memCommissions) List(ctx context.Context, filter models.CommissionFilter, page models.Pagination) (*models.CommissionPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page = page.Normalize()
	var matched []models.CommissionRecord
	for _, r := range m.records {
		if filter.PartnerID != nil && r.PartnerID != *filter.PartnerID {
			continue
		}
		if filter.FarmerID != nil && r.FarmerID != *filter.FarmerID {
			continue
		}
		if filter.OrderID != nil && r.OrderID != *filter.OrderID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.From != nil && r.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !r.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, *cloneRecord(r))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := page.Skip()
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return &models.CommissionPage{
		Items:      matched[start:end],
		Total:      total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: (total + page.Limit - 1) / page.Limit,
	}, nil
}

func (m *memCommissions) TransitionStatus(ctx context.Context, id primitive.ObjectID, from string, change repositories.StatusChange) (*models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != from || rec.TotalsSync != nil {
		return nil, repositories.ErrStatusConflict
	}
	rec.Status = change.To
	rec.UpdatedAt = change.At
	rec.TotalsSync = &models.TotalsSync{From: from, To: change.To, Since: change.At}
	if change.PaidAt != nil {
		t := *change.PaidAt
		rec.PaidAt = &t
	}
	if change.PayoutReference != "" {
		rec.PayoutReference = change.PayoutReference
	}
	if change.CancelReason != "" {
		rec.CancelReason = change.CancelReason
	}
	return cloneRecord(rec), nil
}

func (m *memCommissions) ClaimTotalsSync(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.TotalsSync == nil {
		return nil, nil
	}
	before := cloneRecord(rec)
	rec.TotalsSync = nil
	if m.afterClaim != nil {
		m.afterClaim(rec)
	}
	return before, nil
}

func (m *memCommissions) RestoreTotalsSync(ctx context.Context, id primitive.ObjectID, marker models.TotalsSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.TotalsSync != nil {
		return repositories.ErrMarkerSuperseded
	}
	rec.TotalsSync = &marker
	return nil
}

func (m *memCommissions) FindStaleTotalsSync(ctx context.Context, before time.Time, limit int64) ([]models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionRecord
	for _, r := range m.records {
		if r.TotalsSync != nil && r.TotalsSync.Since.Before(before) {
			out = append(out, *cloneRecord(r))
		}
	}
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCommissions) ClearTotalsSync(ctx context.Context, partnerID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.PartnerID == partnerID && r.TotalsSync != nil {
			r.TotalsSync = nil
			n++
		}
	}
	return n, nil
}

func (m *memCommissions) SumByStatusAndMonth(ctx context.Context, partnerID primitive.ObjectID) ([]repositories.StatusMonthSum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct{ status, month string }
	sums := map[key]*repositories.StatusMonthSum{}
	for _, r := range m.records {
		if r.PartnerID != partnerID || r.Status == models.CommissionStatusCancelled {
			continue
		}
		k := key{r.Status, models.MonthKey(r.OrderDate)}
		s, ok := sums[k]
		if !ok {
			s = &repositories.StatusMonthSum{Status: k.status, Month: k.month}
			sums[k] = s
		}
		s.Amount += r.Amount
		s.Count++
	}
	var rows []repositories.StatusMonthSum
	for _, s := range sums {
		rows = append(rows, *s)
	}
	return rows, nil
}

func (m *memCommissions) PartnerIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	for _, r := range m.records {
		if !seen[r.PartnerID] {
			seen[r.PartnerID] = true
			ids = append(ids, r.PartnerID)
		}
	}
	return ids, nil
}

func (m *memCommissions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memCommissions) setStatus(id primitive.ObjectID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Status = status
}

// memPartners is an in-memory PartnerStore; IncrementTotals is atomic like $inc.
type memPartners struct {
	mu       sync.Mutex
	partners map[primitive.ObjectID]*models.Partner
	// failIncrements makes the next n IncrementTotals calls fail with errStorage
	failIncrements int
	increments     int
}

func newMemPartners(partners ...*models.Partner) *memPartners {
	m := &memPartners{partners: map[primitive.ObjectID]*models.Partner{}}
	for _, p := range partners {
		m.partners[p.ID] = p
	}
	return m
}

func (m *memPartners) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memPartners) FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.partners {
		if p.UserID == userID {
			c := *p
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memPartners) GetTotals(ctx context.Context, id primitive.ObjectID) (*models.CommissionTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	t := p.Totals
	t.Monthly = map[string]int64{}
	for k, v := range p.Totals.Monthly {
		t.Monthly[k] = v
	}
	return &t, nil
}

func (m *memPartners) IncrementTotals(ctx context.Context, id primitive.ObjectID, delta models.TotalsDelta, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIncrements > 0 {
		m.failIncrements--
		return errStorage
	}
	p, ok := m.partners[id]
	if !ok {
		return repositories.ErrNotFound
	}
	m.increments++
	p.Totals.Lifetime += delta.Lifetime
	p.Totals.Pending += delta.Pending
	p.Totals.Paid += delta.Paid
	if delta.Lifetime != 0 && delta.Month != "" {
		if p.Totals.Monthly == nil {
			p.Totals.Monthly = map[string]int64{}
		}
		p.Totals.Monthly[delta.Month] += delta.Lifetime
	}
	p.Totals.UpdatedAt = at
	return nil
}

func (m *memPartners) ReplaceTotals(ctx context.Context, id primitive.ObjectID, totals models.CommissionTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return repositories.ErrNotFound
	}
	p.Totals = totals
	return nil
}

func (m *memPartners) totals(id primitive.ObjectID) models.CommissionTotals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partners[id].Totals
}

func (m *memPartners) corrupt(id primitive.ObjectID, fn func(t *models.CommissionTotals)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.partners[id].Totals)
}

// memMarket holds orders, listings and farmers.
type memMarket struct {
	mu       sync.Mutex
	orders   map[primitive.ObjectID]*models.Order
	listings map[primitive.ObjectID]*models.Listing
	farmers  map[primitive.ObjectID]*models.Farmer
	// failOrderReads makes the next n FindOrder calls fail with errStorage
	failOrderReads int
	listingErr     error
	resolveCalls   int
}

func newMemMarket() *memMarket {
	return &memMarket{
		orders:   map[primitive.ObjectID]*models.Order{},
		listings: map[primitive.ObjectID]*models.Listing{},
		farmers:  map[primitive.ObjectID]*models.Farmer{},
	}
}

func (m *memMarket) FindOrder(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOrderReads > 0 {
		m.failOrderReads--
		return nil, errStorage
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *memMarket) FindListing(ctx context.Context, id primitive.ObjectID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listingErr != nil {
		return nil, m.listingErr
	}
	l, ok := m.listings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *memMarket) FindFarmer(ctx context.Context, id primitive.ObjectID) (*models.Farmer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.farmers[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (m *memMarket) ResolvePartnerForFarmer(ctx context.Context, farmerID primitive.ObjectID) (*primitive.ObjectID, error) {
	m.mu.Lock()
	m.resolveCalls++
	m.mu.Unlock()
	f, err := m.FindFarmer(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return f.PartnerID, nil
}

func (m *memMarket) addFarmer(name string, partnerID *primitive.ObjectID) *models.Farmer {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &models.Farmer{ID: primitive.NewObjectID(), FullName: name, PartnerID: partnerID}
	m.farmers[f.ID] = f
	return f
}

func (m *memMarket) addListing(farmerID primitive.ObjectID, title string) *models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.Listing{ID: primitive.NewObjectID(), FarmerID: farmerID, Title: title}
	m.listings[l.ID] = l
	return l
}

func (m *memMarket) addOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

type memNotifications struct {
	mu      sync.Mutex
	created map[primitive.ObjectID]models.Notification
	calls   int
	failAll bool
}

func newMemNotifications() *memNotifications {
	return &memNotifications{created: map[primitive.ObjectID]models.Notification{}}
}

func (m *memNotifications) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAll {
		return errStorage
	}
	m.created[n.ID] = *n
	return nil
}

func (m *memNotifications) all() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Notification, 0, len(m.created))
	for _, n := range m.created {
		out = append(out, n)
	}
	return out
}

type pushed struct {
	userID  primitive.ObjectID
	event   string
	payload interface{}
}

type memPusher struct {
	mu      sync.Mutex
	pushes  []pushed
	calls   int
	failAll bool
}

func (m *memPusher) PushToUser(ctx context.Context, userID primitive.ObjectID, event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAll {
		return errors.New("session write failed")
	}
	m.pushes = append(m.pushes, pushed{userID: userID, event: event, payload: payload})
	return nil
}

func (m *memPusher) all() []pushed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pushed(nil), m.pushes...)
}

type memPayouts struct {
	mu      sync.Mutex
	payouts []models.PayoutTransaction
	// failCreates makes the next n Create calls fail with errStorage
	failCreates int
	creates     int
}

func (m *memPayouts) Create(ctx context.Context, p *models.PayoutTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failCreates > 0 {
		m.failCreates--
		return errStorage
	}
	m.payouts = append(m.payouts, *p)
	return nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[primitive.ObjectID]*models.CommissionJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[primitive.ObjectID]*models.CommissionJob{}}
}

func (m *memJobs) Start(ctx context.Context, orderID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[orderID]
	if !ok {
		j = &models.CommissionJob{ID: primitive.NewObjectID(), OrderID: orderID}
		m.jobs[orderID] = j
	}
	j.Status = models.CommissionJobProcessing
	j.Attempts++
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJobs) Complete(ctx context.Context, result models.OrderCommissionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[result.OrderID]
	j.Status = models.CommissionJobCompleted
	j.LastError = ""
	j.Created += result.ProcessedItems
	j.TotalCommission += result.TotalCommission
	return nil
}

func (m *memJobs) Fail(ctx context.Context, result models.OrderCommissionResult, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[result.OrderID]
	if !ok {
		return nil
	}
	j.Status = models.CommissionJobFailed
	j.LastError = cause.Error()
	j.Created += result.ProcessedItems
	j.TotalCommission += result.TotalCommission
	return nil
}

func (m *memJobs) ListResumable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int64) ([]models.CommissionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionJob
	for _, j := range m.jobs {
		if j.Attempts >= maxAttempts {
			continue
		}
		stuck := j.Status == models.CommissionJobProcessing && j.UpdatedAt.Before(staleBefore)
		if j.Status == models.CommissionJobFailed || stuck {
			out = append(out, *j)
		}
	}
	return out, nil
}

// age moves the job's last update back by d.
func (m *memJobs) age(orderID primitive.ObjectID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[orderID].UpdatedAt = m.jobs[orderID].UpdatedAt.Add(-d)
}

func (m *memJobs) get(orderID primitive.ObjectID) models.CommissionJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[orderID]
}

type recordingAlerter struct {
	mu      sync.Mutex
	reports []models.ReconcileReport
}

func (r *recordingAlerter) DriftDetected(ctx context.Context, report models.ReconcileReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	created []primitive.ObjectID
}

func (r *recordingAnnouncer) CommissionCreated(rec *models.CommissionRecord, partnerUserID primitive.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, rec.ID)
	return true
}

func (r *recordingAnnouncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}
