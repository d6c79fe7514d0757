package property

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"estateflow/notify"
	"estateflow/storage"
	"estateflow/user"
)

// fakeRepository keeps listings in memory and applies every mutation under
// one mutex, which stands in for the row lock the SQL statements rely on.
type fakeRepository struct {
	mu    sync.Mutex
	props map[string]Property
	seq   int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{props: map[string]Property{}}
}

func clone(p Property) Property {
	p.Images = append([]string{}, p.Images...)
	p.Deals = append([]Deal{}, p.Deals...)
	p.Details.Amenities = append([]string(nil), p.Details.Amenities...)
	return p
}

func (f *fakeRepository) Create(_ context.Context, p Property) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("p-%d", f.seq)
	}
	p.Images = []string{}
	p.Deals = []Deal{}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.props[p.ID] = p
	return clone(p), nil
}

func (f *fakeRepository) GetByID(_ context.Context, id string) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	return clone(p), nil
}

func (f *fakeRepository) Search(_ context.Context, flt Filters) ([]Property, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Property{}
	for _, p := range f.props {
		switch {
		case flt.OwnerID != "" && p.OwnerID != flt.OwnerID:
		case flt.Type != "" && p.Details.Type != flt.Type:
		case flt.Status != "" && p.Status != flt.Status:
		case flt.City != "" && !strings.EqualFold(p.Details.City, flt.City):
		case flt.MinPrice > 0 && p.Details.Price < flt.MinPrice:
		case flt.MaxPrice > 0 && p.Details.Price > flt.MaxPrice:
		case flt.MinArea > 0 && p.Details.Area < flt.MinArea:
		case flt.MaxArea > 0 && p.Details.Area > flt.MaxArea:
		default:
			out = append(out, clone(p))
		}
	}
	return out, len(out), nil
}

func (f *fakeRepository) Patch(_ context.Context, id string, cols []assignment) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	applyPatch(&p.Details, cols)
	f.props[id] = p
	return clone(p), nil
}

func (f *fakeRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.props[id]; !ok {
		return ErrPropertyNotFound
	}
	delete(f.props, id)
	return nil
}

func (f *fakeRepository) CompareAndSetStatus(_ context.Context, id string, expected, next Status) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	if p.Status != expected {
		return Property{}, ErrStatusChanged
	}
	p.Status = next
	f.props[id] = p
	return clone(p), nil
}

func (f *fakeRepository) AppendImages(_ context.Context, id string, uris []string) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	if len(p.Images)+len(uris) > MaxImages {
		return Property{}, ErrImageLimit
	}
	p.Images = append(p.Images, uris...)
	f.props[id] = p
	return clone(p), nil
}

func (f *fakeRepository) RemoveImage(_ context.Context, id, uri string) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	kept := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		if img != uri {
			kept = append(kept, img)
		}
	}
	if len(kept) == len(p.Images) {
		return Property{}, ErrImageNotFound
	}
	p.Images = kept
	f.props[id] = p
	return clone(p), nil
}

func (f *fakeRepository) AppendDeal(_ context.Context, id string, d Deal) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	for _, existing := range p.Deals {
		if existing.AgentID == d.AgentID && existing.outstanding() {
			return Property{}, ErrDuplicateProposal
		}
	}
	if p.OutstandingDeals() >= ProposalCap(p.Details.Type) {
		return Property{}, ErrDealCapReached
	}
	p.Deals = append(p.Deals, d)
	f.props[id] = p
	return clone(p), nil
}

func (f *fakeRepository) UpdateDeals(_ context.Context, id string, fn func(p *Property) error) (Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[id]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	p = clone(p)
	if err := fn(&p); err != nil {
		return Property{}, err
	}
	f.props[id] = p
	return clone(p), nil
}

// fakeUploader names URIs after the uploaded file and records deletions.
type fakeUploader struct {
	mu        sync.Mutex
	stored    []string
	deleted   []string
	failOn    string
	deleteErr error
}

func (u *fakeUploader) Store(_ context.Context, f storage.File, category string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if f.Name == u.failOn {
		return "", fmt.Errorf("upload %s: quota exceeded", f.Name)
	}
	uri := fmt.Sprintf("/%s/%s", category, f.Name)
	u.stored = append(u.stored, uri)
	return uri, nil
}

func (u *fakeUploader) Delete(_ context.Context, uri string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, uri)
	return u.deleteErr
}

type fakeDirectory map[string]user.User

func (d fakeDirectory) GetByID(_ context.Context, id string) (user.User, error) {
	u, ok := d[id]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return u, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Request
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, req notify.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, req)
	return r.err
}

func (r *recordingNotifier) requests() []notify.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Request{}, r.sent...)
}

// applyPatch mirrors the column assignments the PG repository would write.
func applyPatch(d *Details, cols []assignment) {
	for _, c := range cols {
		switch c.column {
		case "title":
			d.Title = c.value.(string)
		case "description":
			d.Description = c.value.(string)
		case "price":
			d.Price = c.value.(float64)
		case "currency":
			d.Currency = c.value.(string)
		case "area":
			d.Area = c.value.(float64)
		case "bedrooms":
			d.Bedrooms = c.value.(int)
		case "bathrooms":
			d.Bathrooms = c.value.(int)
		case "parking_spaces":
			d.ParkingSpaces = c.value.(int)
		case "floor_number":
			d.FloorNumber = c.value.(int)
		case "is_furnished":
			d.IsFurnished = c.value.(bool)
		case "type":
			d.Type = ListingType(c.value.(string))
		case "property_type":
			d.PropertyType = c.value.(string)
		case "rent_period":
			d.RentPeriod = c.value.(string)
		case "address":
			d.Address = c.value.(string)
		case "city":
			d.City = c.value.(string)
		case "state":
			d.State = c.value.(string)
		case "country":
			d.Country = c.value.(string)
		case "amenities":
			d.Amenities = c.value.([]string)
		case "contact_name":
			d.ContactName = c.value.(string)
		case "contact_email":
			d.ContactEmail = c.value.(string)
		case "contact_number":
			d.ContactNumber = c.value.(string)
		}
	}
}
