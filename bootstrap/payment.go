package bootstrap

import (
	"fmt"

	"companion/app/services/billing"
	btsConfig "companion/config"
	"companion/pkg/config"
	"companion/pkg/logger"
	"companion/pkg/payment/factory"
	"companion/pkg/payment/utils"
)

// SetupPayment 按配置启用支付渠道并加载商品目录
func SetupPayment() (*factory.Registry, *billing.Catalog, error) {
	nodeID := config.GetInt64("app.node_id")
	if nodeID < 0 || nodeID > 1023 {
		return nil, nil, fmt.Errorf("app.node_id must be within 0-1023, got %d", nodeID)
	}
	utils.SetNodeID(nodeID)

	cfg := btsConfig.LoadPaymentConfig()
	registry := factory.NewRegistryFromConfig(cfg)

	catalog, err := billing.ParseCatalog(cfg.Catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("payment catalog: %w", err)
	}
	if catalog.Len() > 0 {
		logger.InfoString("Payment", "Catalog", fmt.Sprintf("已加载 %d 个商品", catalog.Len()))
	} else {
		logger.WarnString("Payment", "Catalog", "未配置商品目录，使用下单请求中的价格")
	}
	return registry, catalog, nil
}
