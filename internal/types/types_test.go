package types

import "testing"

func TestTradeTypeMapping(t *testing.T) {
	cases := []struct {
		side      OrderSide
		commodity Commodity
		online    TransactionType
		physical  TransactionType
	}{
		{OrderSideBuy, CommodityGold, TransactionTypeBuyGoldOnline, TransactionTypeBuyGoldPhysical},
		{OrderSideBuy, CommoditySilver, TransactionTypeBuySilverOnline, TransactionTypeBuySilverPhysical},
		{OrderSideSell, CommodityGold, TransactionTypeSellGoldOnline, TransactionTypeSellGoldPhysical},
		{OrderSideSell, CommoditySilver, TransactionTypeSellSilverOnline, TransactionTypeSellSilverPhysical},
	}
	for _, tc := range cases {
		if got := OnlineTradeType(tc.side, tc.commodity); got != tc.online {
			t.Errorf("OnlineTradeType(%s, %s) = %s, want %s", tc.side, tc.commodity, got, tc.online)
		}
		if got := PhysicalTradeType(tc.side, tc.commodity); got != tc.physical {
			t.Errorf("PhysicalTradeType(%s, %s) = %s, want %s", tc.side, tc.commodity, got, tc.physical)
		}
	}
}

func TestValidKarat(t *testing.T) {
	for _, k := range Karats {
		if !ValidKarat(k) {
			t.Errorf("ValidKarat(%d) = false", k)
		}
	}
	for _, k := range []int{0, 12, 21, 25} {
		if ValidKarat(k) {
			t.Errorf("ValidKarat(%d) = true", k)
		}
	}
}

func TestValidCommodity(t *testing.T) {
	if !ValidCommodity(CommodityGold) || !ValidCommodity(CommoditySilver) {
		t.Fatal("known commodities rejected")
	}
	if ValidCommodity("platinum") || ValidCommodity("") {
		t.Fatal("unknown commodity accepted")
	}
}
