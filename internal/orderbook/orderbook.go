package orderbook

import "math/rand/v2"

type OrderSide int

const (
	OrderSideBuy  = 1
	OrderSideSell = 2
	MaxPrice      = 10000
	MinPrice      = 9000
)

type Order struct {
	Id    int
	Side  OrderSide
	Price int
	Qty   int
}

type OrderBook interface {
	Insert(order Order) error
	Remove(id int) error
}

type OrderBookNode struct {
	Order Order
	Left  *OrderBookNode
	Right *OrderBookNode
}

// Generator drives a book with a random mix of inserts and removals. Each
// worker owns its own Generator.
type Generator struct {
	rng      *rand.Rand
	counter  int
	removals int
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		counter:  1,
		removals: 1,
	}
}

func (g *Generator) randomBoolDistribution(truePercentage int) bool {
	return g.rng.IntN(100) < truePercentage
}

func (g *Generator) randomSide() OrderSide {
	if g.rng.IntN(2) == 0 {
		return OrderSideBuy
	}
	return OrderSideSell
}

func (g *Generator) GenerateOrder() Order {
	side := g.randomSide()
	price := g.rng.IntN(MaxPrice-MinPrice) + MinPrice
	qty := g.rng.IntN(10) + 1
	id := g.counter
	g.counter++
	return Order{id, side, price, qty}
}

// Act performs one random operation against ob.
func (g *Generator) Act(ob OrderBook) error {
	if g.randomBoolDistribution(50) {
		return ob.Insert(g.GenerateOrder())
	}
	if g.removals >= g.counter {
		return nil
	}
	id := g.removals
	g.removals++
	return ob.Remove(id)
}

// Live reports how many generated orders have not been removed yet.
func (g *Generator) Live() int {
	return g.counter - g.removals
}
