package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cacheTTL = 10 * time.Minute

// Catalog resolves prices from the model_pricing table with a Redis
// cache in front. PostgreSQL is the source of truth; Redis keeps the hot
// path off the database since every successful job resolves a price.
//
// Cache keys: "price:<model>" -> decimal string.
type Catalog struct {
	db           *sql.DB
	redis        *redis.Client
	defaultPrice decimal.Decimal
	log          zerolog.Logger
	stopCh       chan struct{}
}

// NewCatalog creates a catalog resolver. defaultPrice is returned for
// models with no pricing row.
func NewCatalog(db *sql.DB, rdb *redis.Client, defaultPrice decimal.Decimal, logger zerolog.Logger) *Catalog {
	return &Catalog{
		db:           db,
		redis:        rdb,
		defaultPrice: defaultPrice,
		log:          logger.With().Str("component", "pricing").Logger(),
		stopCh:       make(chan struct{}),
	}
}

// UnitPrice resolves the per-second price for a model.
//
// Lookup order: Redis cache, then PostgreSQL. A database row populates
// the cache; a missing row falls back to the default price (logged, not
// cached, so a later catalog insert takes effect immediately). Redis
// being down is not fatal; the database still answers.
func (c *Catalog) UnitPrice(ctx context.Context, model string) (decimal.Decimal, error) {
	cacheKey := "price:" + model

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			if p, perr := decimal.NewFromString(cached); perr == nil {
				return p, nil
			}
		} else if err != redis.Nil {
			c.log.Debug().Err(err).Str("model", model).Msg("price cache read failed")
		}
	}

	var price decimal.Decimal
	err := c.db.QueryRowContext(ctx, `
		SELECT unit_price FROM model_pricing WHERE model = $1
	`, model).Scan(&price)

	if err == sql.ErrNoRows {
		c.log.Warn().Str("model", model).
			Str("default_price", c.defaultPrice.String()).
			Msg("price not found for model, using default")
		return c.defaultPrice, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing query failed: %w", err)
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey, price.String(), cacheTTL).Err(); err != nil {
			c.log.Debug().Err(err).Str("model", model).Msg("price cache write failed")
		}
	}
	return price, nil
}

// StartRefresh warms the Redis cache from the catalog and keeps it warm
// on a ticker. Catches pricing rows added or changed while the service
// runs; a refresh failure only means the next UnitPrice miss hits the
// database.
func (c *Catalog) StartRefresh(interval time.Duration) {
	if interval == 0 {
		interval = 5 * time.Minute
	}

	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.refreshCache(ctx); err != nil {
			c.log.Error().Err(err).Msg("price cache refresh failed")
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the refresh goroutine.
func (c *Catalog) Stop() {
	close(c.stopCh)
}

func (c *Catalog) refreshCache(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}

	rows, err := c.db.QueryContext(ctx, `SELECT model, unit_price FROM model_pricing`)
	if err != nil {
		return fmt.Errorf("pricing query failed: %w", err)
	}
	defer rows.Close()

	pipe := c.redis.Pipeline()
	count := 0
	for rows.Next() {
		var model string
		var price decimal.Decimal
		if err := rows.Scan(&model, &price); err != nil {
			return fmt.Errorf("pricing scan failed: %w", err)
		}
		pipe.Set(ctx, "price:"+model, price.String(), cacheTTL)
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec failed: %w", err)
	}

	c.log.Debug().Int("count", count).Msg("price cache refreshed")
	return nil
}

var _ Resolver = (*Catalog)(nil)
