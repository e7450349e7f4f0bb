package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/cache"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/repository"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m        sync.Mutex
	carts    map[string]*domain.Cart
	err      error
	getCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *mockRepository) IncrementItem(_ context.Context, userID, productID string, delta, limit int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		c = domain.EmptyCart(userID)
		m.carts[userID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			if c.Items[i].Quantity+delta > limit {
				return domain.ErrQuantityLimit
			}
			c.Items[i].Quantity += delta
			return nil
		}
	}
	if delta > limit {
		return domain.ErrQuantityLimit
	}
	c.Items = append(c.Items, domain.CartItem{ProductID: productID, Quantity: delta, AddedAt: time.Now()})
	return nil
}

func (m *mockRepository) SetItemQuantity(_ context.Context, userID, productID string, quantity int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return domain.ErrItemNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (m *mockRepository) RemoveItems(_ context.Context, userID string, productIDs ...string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	drop := make(map[string]bool)
	for _, id := range productIDs {
		drop[id] = true
	}
	kept := c.Items[:0]
	for _, it := range c.Items {
		if !drop[it.ProductID] {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	return nil
}

func (m *mockRepository) ClearCart(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.carts, userID)
	return nil
}

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	gens    map[string]int64
	err     error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart), gens: make(map[string]int64)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Generation(_ context.Context, userID string) (int64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.gens[userID], nil
}

func (m *mockCache) SetIfUnchanged(_ context.Context, userID string, cart *domain.Cart, gen int64) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.gens[userID] != gen {
		return false, nil
	}
	m.carts[userID] = cart
	return true, nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	m.gens[userID]++
	delete(m.carts, userID)
	return m.err
}

// pausingRepository holds the first GetCart after it has read the cart until
// release is closed.
type pausingRepository struct {
	*mockRepository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := p.mockRepository.GetCart(ctx, userID)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return cart, err
}

type mockProducts map[string]*domain.Product

func (m mockProducts) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return p, nil
}

type mockOwnership map[string]bool

func (m mockOwnership) Exists(_ context.Context, userID, productID string) (bool, error) {
	return m[userID+"/"+productID], nil
}

var testProducts = mockProducts{
	"paid": {ID: "paid", Name: "Sound Pack", Price: 299},
	"free": {ID: "free", Name: "Starter Tools", Price: 0},
}

func newTestService(repo *mockRepository, c *mockCache, owned mockOwnership) *Service {
	return NewService(repo, c, testProducts, owned, domain.DefaultQuantityPolicy(), nil)
}

func TestGetCart_EmptyWhenAbsent(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)

	cart, err := sut.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", cart.UserID)
	assert.Empty(t, cart.Items)
}

func TestGetCart_RequiresIdentity(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)

	_, err := sut.GetCart(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestGetCart_ServedFromCache(t *testing.T) {
	repo := newMockRepository()
	c := newMockCache()
	c.carts["u1"] = &domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "paid", Quantity: 1}}}
	sut := newTestService(repo, c, nil)

	cart, err := sut.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, 0, repo.getCalls)
}

func TestGetCart_PopulatesCacheOnMiss(t *testing.T) {
	repo := newMockRepository()
	c := newMockCache()
	sut := newTestService(repo, c, nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))

	_, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	_, err = sut.GetCart(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.getCalls)
}

func TestGetCart_CacheErrorFallsThrough(t *testing.T) {
	repo := newMockRepository()
	c := newMockCache()
	c.err = errors.New("redis down")
	sut := newTestService(repo, c, nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))
	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestGetCart_ReadRacingMutationIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := newMockRepository()
	repo.carts["u1"] = &domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "free", Quantity: 1}}}
	slow := &pausingRepository{mockRepository: repo, read: make(chan struct{}), release: make(chan struct{})}
	sut := NewService(slow, cache.NewRedisCache(client, 0), testProducts, nil, domain.DefaultQuantityPolicy(), nil)
	ctx := context.Background()

	inFlight := make(chan *domain.Cart, 1)
	go func() {
		cart, err := sut.GetCart(ctx, "u1")
		assert.NoError(t, err)
		inFlight <- cart
	}()

	<-slow.read
	require.NoError(t, sut.RemoveItems(ctx, "u1", "free"))
	close(slow.release)
	assert.Len(t, (<-inFlight).Items, 1)

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	// The second read reached the repository and cached the current cart.
	cart, err = sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 2, repo.getCalls)
}

func TestGetCart_RepositoryErrorSurfaces(t *testing.T) {
	repo := newMockRepository()
	repo.err = fmt.Errorf("%w: mongo down", domain.ErrUpstream)
	sut := newTestService(repo, newMockCache(), nil)

	_, err := sut.GetCart(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestAddItem_Increments(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))
	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "paid", 1), domain.ErrQuantityLimit)
}

func TestAddItem_FreeProductCappedAtOne(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "free", 1))
	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "free", 1), domain.ErrQuantityLimit)

	require.NoError(t, sut.SetQuantity(ctx, "u1", "free", 1))
	assert.ErrorIs(t, sut.SetQuantity(ctx, "u1", "free", 2), domain.ErrQuantityLimit)
	assert.ErrorIs(t, sut.SetQuantity(ctx, "u1", "free", 0), domain.ErrInvalidQuantity)

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "free", cart.Items[0].ProductID)
	assert.Equal(t, 1, cart.Items[0].Quantity)
}

func TestAddItem_Rejections(t *testing.T) {
	owned := mockOwnership{"u1/paid": true}
	sut := newTestService(newMockRepository(), newMockCache(), owned)
	ctx := context.Background()

	assert.ErrorIs(t, sut.AddItem(ctx, "", "free", 1), domain.ErrUnauthenticated)
	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "free", 0), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "free", -3), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "ghost", 1), domain.ErrProductNotFound)
	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "paid", 1), domain.ErrAlreadyOwned)

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestSetQuantity_Overwrites(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 2))
	require.NoError(t, sut.SetQuantity(ctx, "u1", "paid", 1))

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Items[0].Quantity)

	assert.ErrorIs(t, sut.SetQuantity(ctx, "u2", "paid", 1), domain.ErrItemNotFound)
}

func TestMutationsInvalidateCache(t *testing.T) {
	c := newMockCache()
	sut := newTestService(newMockRepository(), c, nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))
	_, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, c.carts, "u1")

	require.NoError(t, sut.RemoveItem(ctx, "u1", "paid"))
	assert.NotContains(t, c.carts, "u1")

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestRemoveAndClear_Idempotent(t *testing.T) {
	sut := newTestService(newMockRepository(), newMockCache(), nil)
	ctx := context.Background()

	require.NoError(t, sut.AddItem(ctx, "u1", "paid", 1))
	require.NoError(t, sut.AddItem(ctx, "u1", "free", 1))

	require.NoError(t, sut.RemoveItems(ctx, "u1", "free", "ghost"))
	require.NoError(t, sut.RemoveItems(ctx, "u1", "free"))
	require.NoError(t, sut.ClearCart(ctx, "u1"))
	require.NoError(t, sut.ClearCart(ctx, "u1"))
	assert.ErrorIs(t, sut.ClearCart(ctx, ""), domain.ErrUnauthenticated)
}

func TestMutationErrorsAreReturned(t *testing.T) {
	repo := newMockRepository()
	repo.err = fmt.Errorf("%w: mongo down", domain.ErrUpstream)
	sut := newTestService(repo, newMockCache(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, sut.AddItem(ctx, "u1", "paid", 1), domain.ErrUpstream)
	assert.ErrorIs(t, sut.SetQuantity(ctx, "u1", "paid", 1), domain.ErrUpstream)
	assert.ErrorIs(t, sut.RemoveItem(ctx, "u1", "paid"), domain.ErrUpstream)
	assert.ErrorIs(t, sut.ClearCart(ctx, "u1"), domain.ErrUpstream)
}
