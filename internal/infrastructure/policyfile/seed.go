package policyfile

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Store is what seeding writes to
type Store interface {
	port.PolicyStore
	port.PolicyWriter
	port.TransactionManager
}

// Seed writes the document in one transaction. Companies and users are
// upserted and sequences replaced. Rules are inserted only for companies
// that have none yet, so seeding an existing database twice is harmless.
func Seed(ctx context.Context, store Store, doc *Document, logger *zap.Logger) error {
	return store.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, c := range doc.Companies {
			company := c.Company
			if err := store.SaveCompany(txCtx, &company); err != nil {
				return err
			}
			for _, u := range c.Users {
				if err := store.SaveUser(txCtx, u.toEntity(c.ID)); err != nil {
					return err
				}
			}

			existing, err := store.ListRules(txCtx, c.ID)
			if err != nil {
				return err
			}
			rulesAdded := 0
			if len(existing) == 0 {
				for _, r := range c.Rules {
					rule, err := r.toEntity(c.ID)
					if err != nil {
						return invalid("company %d rule %q: %v", c.ID, r.Name, err)
					}
					if err := store.CreateRule(txCtx, rule); err != nil {
						return err
					}
					rulesAdded++
				}
			}

			if len(c.Sequence) > 0 {
				entries := make([]*entity.ApprovalSequenceEntry, len(c.Sequence))
				for i, s := range c.Sequence {
					entries[i] = s.toEntity()
				}
				if err := store.ReplaceSequence(txCtx, c.ID, entries); err != nil {
					return err
				}
			}

			logger.Info("Seeded company policy",
				zap.Int64("company_id", c.ID),
				zap.Int("users", len(c.Users)),
				zap.Int("rules_added", rulesAdded),
				zap.Int("sequence", len(c.Sequence)))
		}
		return nil
	})
}
