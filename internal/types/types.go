package types

type OrderSide string

type OrderType string

type OrderStatus string

type TransactionType string

type TransactionStatus string

type Commodity string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypePhysical OrderType = "PHYSICAL"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

const (
	TransactionTypeDeposit            TransactionType = "DEPOSIT"
	TransactionTypeWithdraw           TransactionType = "WITHDRAW"
	TransactionTypeBuyGoldOnline      TransactionType = "BUY_GOLD_ONLINE"
	TransactionTypeBuySilverOnline    TransactionType = "BUY_SILVER_ONLINE"
	TransactionTypeSellGoldOnline     TransactionType = "SELL_GOLD_ONLINE"
	TransactionTypeSellSilverOnline   TransactionType = "SELL_SILVER_ONLINE"
	TransactionTypeBuyGoldPhysical    TransactionType = "BUY_GOLD_PHYSICAL"
	TransactionTypeBuySilverPhysical  TransactionType = "BUY_SILVER_PHYSICAL"
	TransactionTypeSellGoldPhysical   TransactionType = "SELL_GOLD_PHYSICAL"
	TransactionTypeSellSilverPhysical TransactionType = "SELL_SILVER_PHYSICAL"
)

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

const (
	CommodityGold   Commodity = "gold"
	CommoditySilver Commodity = "silver"
)

// Karats allowed for gold products. Silver products carry no karat.
var Karats = []int{14, 16, 18, 22, 24}

func ValidKarat(k int) bool {
	for _, v := range Karats {
		if v == k {
			return true
		}
	}
	return false
}

func ValidCommodity(c Commodity) bool {
	return c == CommodityGold || c == CommoditySilver
}

// OnlineTradeType maps an order side and commodity to the transaction
// type recorded for an online (immediate settlement) trade.
func OnlineTradeType(side OrderSide, commodity Commodity) TransactionType {
	if side == OrderSideBuy {
		if commodity == CommodityGold {
			return TransactionTypeBuyGoldOnline
		}
		return TransactionTypeBuySilverOnline
	}
	if commodity == CommodityGold {
		return TransactionTypeSellGoldOnline
	}
	return TransactionTypeSellSilverOnline
}

// PhysicalTradeType maps an order side and commodity to the transaction
// type recorded when a physical order settles.
func PhysicalTradeType(side OrderSide, commodity Commodity) TransactionType {
	if side == OrderSideBuy {
		if commodity == CommodityGold {
			return TransactionTypeBuyGoldPhysical
		}
		return TransactionTypeBuySilverPhysical
	}
	if commodity == CommodityGold {
		return TransactionTypeSellGoldPhysical
	}
	return TransactionTypeSellSilverPhysical
}
