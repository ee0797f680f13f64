package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"companion/app/models/order"
	"companion/pkg/payment/utils"
)

// Product 商品目录条目
type Product struct {
	ID          string `json:"product_id"`
	Name        string `json:"product_name"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Credits     int64  `json:"credits"`
	Interval    string `json:"interval"`
	ValidMonths int    `json:"valid_months"`
}

// Catalog 只读商品目录，product_id -> 价格与积分
type Catalog struct {
	products map[string]Product
}

// ParseCatalog 解析 JSON 数组格式的商品目录，空字符串返回空目录
func ParseCatalog(raw string) (*Catalog, error) {
	c := &Catalog{products: make(map[string]Product)}
	if strings.TrimSpace(raw) == "" {
		return c, nil
	}

	var list []Product
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse payment catalog: %w", err)
	}
	for _, p := range list {
		if p.ID == "" {
			return nil, fmt.Errorf("parse payment catalog: product_id is required")
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("parse payment catalog: duplicate product_id %s", p.ID)
		}
		p.Currency = utils.NormalizeCurrency(p.Currency)
		c.products[p.ID] = p
	}
	return c, nil
}

// Lookup 查找商品
func (c *Catalog) Lookup(productID string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[productID]
	return p, ok
}

// Len 商品数量
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// Check 目录中存在该商品时，请求的价格、积分和周期必须一致；目录没有收录时不做限制
func (c *Catalog) Check(req *CheckoutRequest) error {
	p, ok := c.Lookup(req.ProductID)
	if !ok {
		return nil
	}
	if p.Amount != req.Amount || p.Currency != utils.NormalizeCurrency(req.Currency) {
		return fmt.Errorf("%w: price of %s does not match catalog", ErrInvalidParams, req.ProductID)
	}
	if p.Credits != req.Credits {
		return fmt.Errorf("%w: credits of %s does not match catalog", ErrInvalidParams, req.ProductID)
	}
	if normalizeInterval(p.Interval) != normalizeInterval(req.Interval) {
		return fmt.Errorf("%w: interval of %s does not match catalog", ErrInvalidParams, req.ProductID)
	}
	if p.ValidMonths != 0 && req.ValidMonths != 0 && p.ValidMonths != req.ValidMonths {
		return fmt.Errorf("%w: valid_months of %s does not match catalog", ErrInvalidParams, req.ProductID)
	}
	return nil
}

func normalizeInterval(interval string) string {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return order.IntervalOneTime
	}
	return interval
}
