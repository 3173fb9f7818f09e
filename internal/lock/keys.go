package lock

// Key namespaces. Resource-scoped so unrelated owners never contend.

func WalletKey(ownerID string) string {
	return "lock:wallet:" + ownerID
}

func BuyAssetKey(ownerID string) string {
	return "lock:buy-asset:" + ownerID
}

func SellAssetKey(ownerID string) string {
	return "lock:sell-asset:" + ownerID
}

func TradeKey(ownerID, commodity string) string {
	return "lock:trade:" + ownerID + ":" + commodity
}
