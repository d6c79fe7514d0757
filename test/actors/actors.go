package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/agent"
	"estateflow/property"
)

// expected reports whether err is an outcome the actors provoke on purpose.
// Connection resets from the chaos monkey also count.
func expected(err error, allowed ...error) bool {
	if err == nil {
		return true
	}
	for _, a := range allowed {
		if errors.Is(err, a) {
			return true
		}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return isConnReset(err)
}

func isConnReset(err error) bool {
	msg := err.Error()
	for _, s := range []string{"terminating connection", "conn closed", "connection reset", "unexpected EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

// Applicant registers fresh users and files a pending agent request for each.
func Applicant(ctx context.Context, pool *pgxpool.Pool, repo *agent.PGRepository, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		var userID string
		err := pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, first_name) VALUES ($1, 'x', 'Applicant') RETURNING id`,
			fmt.Sprintf("applicant-%d@example.com", rand.Int63())).Scan(&userID)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("applicant user: %w", err)
		}
		_, err = repo.Create(ctx, agent.Agent{UserID: userID, Details: agent.Details{Employees: agent.EmployeesSelf}})
		if !expected(err, agent.ErrAlreadyRequested) {
			return fmt.Errorf("applicant request: %w", err)
		}
		pause(20, 40)
	}
}

// Reviewer decides the oldest pending requests. Several reviewers race for
// the same record; losers must see ErrNotPending.
func Reviewer(ctx context.Context, repo *agent.PGRepository, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		pending, _, err := repo.ListByStatus(ctx, agent.StatusPending, 1, 5)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("reviewer list: %w", err)
		}
		for _, a := range pending {
			if rand.Intn(3) == 0 {
				_, err = repo.Reject(ctx, a.ID)
			} else {
				_, err = repo.Approve(ctx, a.ID, fmt.Sprintf("%032x", rand.Int63()))
			}
			if !expected(err, agent.ErrNotPending, agent.ErrAgentNotFound) {
				return fmt.Errorf("reviewer decide %s: %w", a.ID, err)
			}
		}
		pause(10, 30)
	}
}

// Proposer sends proposals from random agents to random listings.
func Proposer(ctx context.Context, repo *property.PGRepository, propertyIDs, agentIDs []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := repo.AppendDeal(ctx, propertyIDs[rand.Intn(len(propertyIDs))], property.Deal{
			AgentID:        agentIDs[rand.Intn(len(agentIDs))],
			CommissionRate: float64(rand.Intn(10)),
			Status:         property.DealPending,
			FirstName:      "Stress",
			ProfilePhotos:  []string{},
			RequestedAt:    time.Now().UTC(),
		})
		if !expected(err, property.ErrDealCapReached, property.ErrDuplicateProposal) {
			return fmt.Errorf("proposer: %w", err)
		}
		pause(5, 20)
	}
}

// Resolver rejects or accepts outstanding proposals so slots keep turning over.
func Resolver(ctx context.Context, repo *property.PGRepository, propertyIDs []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := repo.UpdateDeals(ctx, propertyIDs[rand.Intn(len(propertyIDs))], func(p *property.Property) error {
			for i := range p.Deals {
				if p.Deals[i].Status != property.DealPending {
					continue
				}
				if rand.Intn(4) == 0 {
					p.Deals[i].Status = property.DealAccepted
				} else {
					p.Deals[i].Status = property.DealRejected
				}
				return nil
			}
			return property.ErrDealNotFound
		})
		if !expected(err, property.ErrDealNotFound) {
			return fmt.Errorf("resolver: %w", err)
		}
		pause(30, 60)
	}
}

// Gallery appends image batches and removes random images.
func Gallery(ctx context.Context, repo *property.PGRepository, propertyIDs []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id := propertyIDs[rand.Intn(len(propertyIDs))]
		if rand.Intn(3) == 0 {
			p, err := repo.GetByID(ctx, id)
			if err == nil && len(p.Images) > 0 {
				_, err = repo.RemoveImage(ctx, id, p.Images[rand.Intn(len(p.Images))])
			}
			if !expected(err, property.ErrImageNotFound) {
				return fmt.Errorf("gallery remove: %w", err)
			}
		} else {
			batch := make([]string, 1+rand.Intn(4))
			for i := range batch {
				batch[i] = fmt.Sprintf("/property/%d.jpg", rand.Int63())
			}
			_, err := repo.AppendImages(ctx, id, batch)
			if !expected(err, property.ErrImageLimit) {
				return fmt.Errorf("gallery append: %w", err)
			}
		}
		pause(5, 25)
	}
}

// Moderator flips listing status between allowed states with compare-and-set.
func Moderator(ctx context.Context, repo *property.PGRepository, propertyIDs []string, stop <-chan struct{}) error {
	next := map[property.Status][]property.Status{
		property.StatusPending:   {property.StatusActive},
		property.StatusActive:    {property.StatusInactive, property.StatusSuspended},
		property.StatusInactive:  {property.StatusActive, property.StatusSuspended},
		property.StatusSuspended: {property.StatusActive, property.StatusInactive},
	}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id := propertyIDs[rand.Intn(len(propertyIDs))]
		p, err := repo.GetByID(ctx, id)
		if err == nil {
			options := next[p.Status]
			_, err = repo.CompareAndSetStatus(ctx, id, p.Status, options[rand.Intn(len(options))])
		}
		if !expected(err, property.ErrStatusChanged) {
			return fmt.Errorf("moderator: %w", err)
		}
		pause(40, 80)
	}
}
