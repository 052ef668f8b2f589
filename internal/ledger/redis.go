package ledger

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Vivek-1102/Capx/pkg/models"
)

const (
	keyPrefix = "instrument:"
	indexKey  = "instruments"
)

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// updateQuantityScript applies a quantity delta atomically: -1 signals a
// missing instrument, -2 a decrement that would go negative; anything else
// is the new quantity.
var updateQuantityScript = redis.NewScript(`
local qty = redis.call("HGET", KEYS[1], "quantity")
if not qty then
  return -1
end
local newqty = tonumber(qty) + tonumber(ARGV[1])
if newqty < 0 then
  return -2
end
redis.call("HSET", KEYS[1], "quantity", newqty)
return newqty
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) FindAll(ctx context.Context) ([]models.Instrument, error) {
	tickers, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tickers))
	for i, ticker := range tickers {
		cmds[i] = pipe.HGetAll(ctx, keyPrefix+ticker)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	instruments := make([]models.Instrument, 0, len(tickers))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		instruments = append(instruments, decodeInstrument(tickers[i], fields))
	}
	return instruments, nil
}

func (r *RedisStore) FindByKey(ctx context.Context, symbol string) (models.Instrument, error) {
	fields, err := r.client.HGetAll(ctx, keyPrefix+symbol).Result()
	if err != nil {
		return models.Instrument{}, err
	}
	if len(fields) == 0 {
		return models.Instrument{}, ErrNotFound
	}
	return decodeInstrument(symbol, fields), nil
}

func (r *RedisStore) Create(ctx context.Context, inst models.Instrument) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, keyPrefix+inst.Ticker,
		"name", inst.Name,
		"quantity", inst.Quantity,
		"buy_price", inst.BuyPrice,
	)
	pipe.SAdd(ctx, indexKey, inst.Ticker)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) UpdateQuantity(ctx context.Context, symbol string, delta int64) (int64, error) {
	res, err := updateQuantityScript.Run(ctx, r.client, []string{keyPrefix + symbol}, delta).Int64()
	if err != nil {
		return 0, err
	}
	switch res {
	case -1:
		return 0, ErrNotFound
	case -2:
		return 0, ErrInsufficientQuantity
	}
	return res, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeInstrument(ticker string, fields map[string]string) models.Instrument {
	quantity, _ := strconv.ParseInt(fields["quantity"], 10, 64)
	buyPrice, _ := strconv.ParseFloat(fields["buy_price"], 64)
	return models.Instrument{
		Ticker:   ticker,
		Name:     fields["name"],
		Quantity: quantity,
		BuyPrice: buyPrice,
	}
}
