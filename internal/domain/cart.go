package domain

import "time"

// Cart is the persisted snapshot of one user's cart. Totals are never stored,
// they are derived from Items on every call.
type Cart struct {
	UserID    string         `bson:"user_id" json:"userId"`
	Items     []CartLineItem `bson:"items" json:"items"`
	CreatedAt time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `bson:"updated_at" json:"updatedAt"`
}

// CartLineItem holds one product in the cart. Price is in whole CLP.
type CartLineItem struct {
	ID       string `bson:"id" json:"id"`
	Name     string `bson:"name" json:"name"`
	Price    int64  `bson:"price" json:"price"`
	Quantity int    `bson:"quantity" json:"quantity"`
	Image    string `bson:"image,omitempty" json:"image,omitempty"`
}

func NewCart(userID string) *Cart {
	now := time.Now()
	return &Cart{
		UserID:    userID,
		Items:     []CartLineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) TotalItems() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

func (c *Cart) TotalPrice() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Add increments the quantity of an existing line or appends a new one.
func (c *Cart) Add(item CartLineItem, quantity int) {
	for i := range c.Items {
		if c.Items[i].ID == item.ID {
			c.Items[i].Quantity += quantity
			return
		}
	}
	item.Quantity = quantity
	c.Items = append(c.Items, item)
}

func (c *Cart) Remove(id string) {
	for i, item := range c.Items {
		if item.ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return
		}
	}
}

// SetQuantity reports whether a line with the given id was found.
func (c *Cart) SetQuantity(id string, quantity int) bool {
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items[i].Quantity = quantity
			return true
		}
	}
	return false
}

func (c *Cart) Find(id string) (CartLineItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return CartLineItem{}, false
}

// Clone returns a deep copy so callers can hand snapshots to other goroutines.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartLineItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}
