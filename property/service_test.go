package property

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estateflow/apperr"
	"estateflow/logger"
	"estateflow/notify"
	"estateflow/role"
	"estateflow/storage"
	"estateflow/user"
)

var (
	admin  = role.Actor{UserID: "u-admin", Roles: role.Set{role.User, role.Admin}}
	seller = role.Actor{UserID: "u-seller", Roles: role.Set{role.User, role.Seller}}
	buyer  = role.Actor{UserID: "u-buyer", Roles: role.Set{role.User}}
)

func agentActor(id string) role.Actor {
	return role.Actor{UserID: id, Roles: role.Set{role.User, role.Agent}}
}

type fixture struct {
	svc      *Service
	repo     *fakeRepository
	uploader *fakeUploader
	users    fakeDirectory
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeRepository(),
		uploader: &fakeUploader{},
		users:    fakeDirectory{},
		notifier: &recordingNotifier{},
	}
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("u-agent-%d", i)
		f.users[id] = user.User{
			ID: id, FirstName: "Agent", LastName: fmt.Sprint(i), Phone: fmt.Sprintf("+1555000%d", i),
			ProfilePhotos: []string{"/profile/" + id + ".jpg"}, Roles: role.Set{role.User, role.Agent},
		}
	}
	f.svc = NewService(f.repo, f.uploader, f.users, f.notifier, logger.NewTestLogger(t))
	return f
}

func (f *fixture) listing(t *testing.T, typ ListingType) Property {
	t.Helper()
	p, err := f.svc.Create(context.Background(), seller, Details{Title: "Harbor loft", Price: 2400, Type: typ, City: "Lisbon"})
	require.NoError(t, err)
	return p
}

func (f *fixture) seedImages(t *testing.T, id string, n int) {
	t.Helper()
	uris := make([]string, n)
	for i := range uris {
		uris[i] = fmt.Sprintf("/property/seed-%d.jpg", i)
	}
	_, err := f.repo.AppendImages(context.Background(), id, uris)
	require.NoError(t, err)
}

func files(names ...string) []storage.File {
	out := make([]storage.File, len(names))
	for i, n := range names {
		out[i] = storage.File{Name: n, ContentType: "image/jpeg", Data: []byte("jpeg")}
	}
	return out
}

func TestCreate_RequiresSellerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, buyer, Details{Title: "Cabin", Type: TypeSale})
	require.ErrorIs(t, err, ErrSellerOnly)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	p, err := f.svc.Create(ctx, seller, Details{Title: "  Cabin ", Price: 90000, Type: TypeSale})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "Cabin", p.Details.Title)
	assert.Equal(t, "USD", p.Details.Currency)
	assert.Empty(t, p.Deals)
	assert.Empty(t, p.Images)

	sent := f.notifier.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.PurposePropertyCreated, sent[0].Purpose)
	assert.Equal(t, seller.UserID, sent[0].UserID)
	assert.Equal(t, p.ID, sent[0].RelatedID)
	assert.Equal(t, notify.ModelProperty, sent[0].RelatedModel)
	assert.ElementsMatch(t, role.Set{role.Admin, role.Seller}, sent[0].AllowedRoles)

	_, err = f.svc.Create(ctx, admin, Details{Title: "Admin plot", Type: TypeRent})
	require.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	for name, d := range map[string]Details{
		"missing title":  {Type: TypeSale},
		"negative price": {Title: "x", Price: -1, Type: TypeSale},
		"unknown type":   {Title: "x", Type: "lease"},
		"price too big":  {Title: "x", Price: 1e15, Type: TypeSale},
		"bedrooms huge":  {Title: "x", Bedrooms: math.MaxInt32 + 1, Type: TypeSale},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), seller, d)
			require.ErrorIs(t, err, ErrInvalidDetails)
		})
	}
}

func TestUpdate_PatchesOwnerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	_, err := f.svc.Update(ctx, buyer, p.ID, map[string]interface{}{"price": 1})
	require.ErrorIs(t, err, ErrNotOwner)

	updated, err := f.svc.Update(ctx, seller, p.ID, map[string]interface{}{
		"price":     2550.0,
		"bedrooms":  3,
		"amenities": []interface{}{"pool", "gym"},
		"type":      "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, 2550.0, updated.Details.Price)
	assert.Equal(t, 3, updated.Details.Bedrooms)
	assert.Equal(t, []string{"pool", "gym"}, updated.Details.Amenities)
	assert.Equal(t, TypeRent, updated.Details.Type)

	last := f.notifier.requests()[1]
	assert.Equal(t, notify.PurposePropertyUpdated, last.Purpose)
	assert.Equal(t, seller.UserID, last.UserID)
	assert.Empty(t, last.AllowedRoles)

	_, err = f.svc.Update(ctx, admin, p.ID, map[string]interface{}{"title": "Renamed by admin"})
	require.NoError(t, err)
}

func TestUpdate_RejectsProtectedAndMalformedKeys(t *testing.T) {
	f := newFixture(t)
	p := f.listing(t, TypeSale)

	for name, patch := range map[string]map[string]interface{}{
		"status":     {"status": "active"},
		"owner":      {"ownerId": "u-buyer"},
		"images":     {"images": []interface{}{"/x.jpg"}},
		"deals":      {"deals": []interface{}{}},
		"wrong type": {"price": "free"},
		"fraction":   {"bedrooms": 2.5},
		"overflow":   {"bedrooms": 1e20},
		"floor low":  {"floorNumber": -3e9},
		"price huge": {"price": 1e15},
		"bad enum":   {"type": "auction"},
		"empty":      {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Update(context.Background(), seller, p.ID, patch)
			require.ErrorIs(t, err, ErrInvalidPatch)
			assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
		})
	}

	stored, err := f.svc.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, seller.UserID, stored.OwnerID)
}

func TestCoerce_IntegerRange(t *testing.T) {
	v, err := coerce(kindInteger, float64(math.MaxInt32))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, v)

	v, err = coerce(kindInteger, -2.0)
	require.NoError(t, err)
	assert.Equal(t, -2, v)

	for _, in := range []float64{1e20, -1e20, math.MaxInt32 + 1, 1.5} {
		_, err := coerce(kindInteger, in)
		assert.Error(t, err, "value %v", in)
	}
}

func TestDelete_RemovesListingAndFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.seedImages(t, p.ID, 2)

	require.ErrorIs(t, f.svc.Delete(ctx, buyer, p.ID), ErrNotOwner)
	require.NoError(t, f.svc.Delete(ctx, seller, p.ID))

	_, err := f.svc.GetByID(ctx, p.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, f.uploader.deleted, 2)

	last := f.notifier.requests()[1]
	assert.Equal(t, notify.PurposePropertyDeleted, last.Purpose)
	assert.Equal(t, role.Set{role.Admin}, last.AllowedRoles)
	assert.Equal(t, p.ID, last.RelatedID)

	require.ErrorIs(t, f.svc.Delete(ctx, seller, p.ID), ErrPropertyNotFound)
}

func TestUpdateStatus_TransitionTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	_, err := f.svc.UpdateStatus(ctx, seller, p.ID, StatusActive)
	require.ErrorIs(t, err, ErrAdminOnly)

	_, err = f.svc.UpdateStatus(ctx, admin, p.ID, "archived")
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, admin, p.ID, StatusPending)
	require.ErrorIs(t, err, ErrNoOpTransition)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(ctx, admin, p.ID, StatusSuspended)
	require.ErrorIs(t, err, ErrInvalidTransition)

	active, err := f.svc.UpdateStatus(ctx, admin, p.ID, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)

	last := f.notifier.requests()[1]
	assert.Equal(t, notify.PurposePropertyStatusChanged, last.Purpose)
	assert.Equal(t, seller.UserID, last.UserID)
	assert.Equal(t, role.Set{role.Admin}, last.AllowedRoles)

	_, err = f.svc.UpdateStatus(ctx, admin, p.ID, StatusActive)
	require.ErrorIs(t, err, ErrNoOpTransition)
	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Equal(t, StatusActive, stored.Status)

	for _, next := range []Status{StatusSuspended, StatusInactive, StatusActive, StatusInactive, StatusSuspended} {
		_, err := f.svc.UpdateStatus(ctx, admin, p.ID, next)
		require.NoError(t, err, "move to %s", next)
	}
	_, err = f.svc.UpdateStatus(ctx, admin, p.ID, StatusPending)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddImages_AppendsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	_, err := f.svc.AddImages(ctx, buyer, p.ID, files("a.jpg"))
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = f.svc.AddImages(ctx, seller, p.ID, nil)
	require.ErrorIs(t, err, ErrNoImages)

	uris, err := f.svc.AddImages(ctx, seller, p.ID, files("a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"))
	require.NoError(t, err)
	want := []string{"/property/a.jpg", "/property/b.jpg", "/property/c.jpg", "/property/d.jpg", "/property/e.jpg"}
	assert.Equal(t, want, uris)

	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Equal(t, want, stored.Images)
}

func TestAddImages_CapIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.seedImages(t, p.ID, 10)

	_, err := f.svc.AddImages(ctx, seller, p.ID, files("x.jpg", "y.jpg", "z.jpg"))
	require.ErrorIs(t, err, ErrImageLimit)
	assert.Empty(t, f.uploader.stored, "nothing is uploaded when the batch cannot fit")

	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Len(t, stored.Images, 10)

	_, err = f.svc.AddImages(ctx, seller, p.ID, files("x.jpg", "y.jpg"))
	require.NoError(t, err)

	_, err = f.svc.AddImages(ctx, seller, p.ID, files("overflow.jpg"))
	require.ErrorIs(t, err, ErrImageLimit)
	stored, _ = f.svc.GetByID(ctx, p.ID)
	assert.Len(t, stored.Images, MaxImages)
}

func TestAddImages_UploadFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.uploader.failOn = "broken.jpg"

	_, err := f.svc.AddImages(ctx, seller, p.ID, files("ok.jpg", "broken.jpg"))
	require.Error(t, err)

	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Empty(t, stored.Images)
	assert.ElementsMatch(t, f.uploader.stored, f.uploader.deleted)
}

// racingRepository lets another writer fill the listing between the
// service's pre-check and its append.
type racingRepository struct {
	*fakeRepository
}

func (r racingRepository) AppendImages(ctx context.Context, id string, uris []string) (Property, error) {
	p, _ := r.fakeRepository.GetByID(ctx, id)
	fill := make([]string, MaxImages-len(p.Images))
	for i := range fill {
		fill[i] = fmt.Sprintf("/property/rival-%d.jpg", i)
	}
	if _, err := r.fakeRepository.AppendImages(ctx, id, fill); err != nil {
		return Property{}, err
	}
	return r.fakeRepository.AppendImages(ctx, id, uris)
}

func TestAddImages_LostRaceDiscardsUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.svc.repo = racingRepository{f.repo}

	_, err := f.svc.AddImages(ctx, seller, p.ID, files("late.jpg"))
	require.ErrorIs(t, err, ErrImageLimit)
	assert.Equal(t, []string{"/property/late.jpg"}, f.uploader.deleted)

	stored, _ := f.repo.GetByID(ctx, p.ID)
	assert.Len(t, stored.Images, MaxImages)
	assert.NotContains(t, stored.Images, "/property/late.jpg")
}

func TestRemoveImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.seedImages(t, p.ID, 3)

	_, err := f.svc.RemoveImage(ctx, seller, p.ID, "/property/missing.jpg")
	require.ErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Len(t, stored.Images, 3)

	_, err = f.svc.RemoveImage(ctx, buyer, p.ID, "/property/seed-1.jpg")
	require.ErrorIs(t, err, ErrNotOwner)

	f.uploader.deleteErr = errors.New("bucket unavailable")
	updated, err := f.svc.RemoveImage(ctx, seller, p.ID, "/property/seed-1.jpg")
	require.NoError(t, err, "storage failures after the record changed are not surfaced")
	assert.Equal(t, []string{"/property/seed-0.jpg", "/property/seed-2.jpg"}, updated.Images)
	assert.Equal(t, []string{"/property/seed-1.jpg"}, f.uploader.deleted)
}

func TestDeals_RentScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeRent)

	_, err := f.svc.SendDealRequest(ctx, buyer, p.ID, DealRequest{CommissionRate: 3})
	require.ErrorIs(t, err, ErrAgentOnly)

	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-1"), p.ID, DealRequest{CommissionRate: 3, Terms: "exclusive"})
	require.NoError(t, err)
	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-2"), p.ID, DealRequest{CommissionRate: 2.5})
	require.NoError(t, err)

	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-3"), p.ID, DealRequest{CommissionRate: 2})
	require.ErrorIs(t, err, ErrDealCapReached)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = f.svc.AcceptDeal(ctx, admin, p.ID, "u-agent-1")
	require.ErrorIs(t, err, ErrOwnerOnly, "admins do not accept on the owner's behalf")

	accepted, err := f.svc.AcceptDeal(ctx, seller, p.ID, "u-agent-1")
	require.NoError(t, err)
	require.Len(t, accepted.Deals, 2)
	assert.Equal(t, DealAccepted, accepted.Deals[0].Status)
	assert.Equal(t, DealPending, accepted.Deals[1].Status)

	again, err := f.svc.AcceptDeal(ctx, seller, p.ID, "u-agent-1")
	require.NoError(t, err)
	assert.Equal(t, accepted.Deals, again.Deals)

	_, err = f.svc.AcceptDeal(ctx, seller, p.ID, "u-agent-5")
	require.ErrorIs(t, err, ErrDealNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeals_SaleCapAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	_, err := f.svc.SendDealRequest(ctx, agentActor("u-agent-1"), p.ID, DealRequest{CommissionRate: 5})
	require.NoError(t, err)
	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-1"), p.ID, DealRequest{CommissionRate: 4})
	require.ErrorIs(t, err, ErrDuplicateProposal)

	for i := 2; i <= 4; i++ {
		_, err := f.svc.SendDealRequest(ctx, agentActor(fmt.Sprintf("u-agent-%d", i)), p.ID, DealRequest{CommissionRate: 5})
		require.NoError(t, err)
	}
	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-5"), p.ID, DealRequest{CommissionRate: 5})
	require.ErrorIs(t, err, ErrDealCapReached)

	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-5"), "missing", DealRequest{CommissionRate: 5})
	require.ErrorIs(t, err, ErrPropertyNotFound)
	_, err = f.svc.SendDealRequest(ctx, agentActor("u-agent-5"), p.ID, DealRequest{CommissionRate: 120})
	require.ErrorIs(t, err, ErrInvalidCommission)
}

func TestDeals_ConcurrentRequestsRespectCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.SendDealRequest(ctx, agentActor(id), p.ID, DealRequest{CommissionRate: 2})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrDealCapReached) {
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(fmt.Sprintf("u-agent-%d", i))
	}
	wg.Wait()

	assert.Equal(t, DealCap, ok)
	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Len(t, stored.Deals, DealCap)
}

func TestDeals_SnapshotAgentContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)

	updated, err := f.svc.SendDealRequest(ctx, agentActor("u-agent-1"), p.ID, DealRequest{CommissionRate: 3})
	require.NoError(t, err)
	deal := updated.Deals[0]
	assert.Equal(t, "u-agent-1", deal.AgentID)
	assert.Equal(t, DealPending, deal.Status)
	assert.Equal(t, "+15550001", deal.Phone)
	assert.Equal(t, []string{"/profile/u-agent-1.jpg"}, deal.ProfilePhotos)

	u := f.users["u-agent-1"]
	u.Phone = "+19999999999"
	u.ProfilePhotos[0] = "/profile/new.jpg"
	f.users["u-agent-1"] = u

	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Equal(t, "+15550001", stored.Deals[0].Phone)
	assert.Equal(t, []string{"/profile/u-agent-1.jpg"}, stored.Deals[0].ProfilePhotos)

	last := f.notifier.requests()[1]
	assert.Equal(t, notify.PurposeDealRequest, last.Purpose)
	assert.Equal(t, seller.UserID, last.UserID)
	assert.Equal(t, p.ID, last.RelatedID)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rent := f.listing(t, TypeRent)
	sale := f.listing(t, TypeSale)
	_, err := f.svc.UpdateStatus(ctx, admin, sale.ID, StatusActive)
	require.NoError(t, err)

	approved, err := f.svc.ListApproved(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, approved.Total)
	assert.Equal(t, sale.ID, approved.Items[0].ID)

	rentals, err := f.svc.Search(ctx, Filters{Type: TypeRent})
	require.NoError(t, err)
	require.Equal(t, 1, rentals.Total)
	assert.Equal(t, rent.ID, rentals.Items[0].ID)

	mine, err := f.svc.ListByOwner(ctx, seller.UserID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)

	_, err = f.svc.Search(ctx, Filters{Type: "lease"})
	require.ErrorIs(t, err, ErrInvalidDetails)
}

func TestNotifierFailure_KeepsCommittedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.listing(t, TypeSale)
	f.notifier.err = errors.New("notifications table locked")

	updated, err := f.svc.UpdateStatus(ctx, admin, p.ID, StatusActive)
	require.Error(t, err)
	assert.Equal(t, StatusActive, updated.Status)

	stored, _ := f.svc.GetByID(ctx, p.ID)
	assert.Equal(t, StatusActive, stored.Status)
}
