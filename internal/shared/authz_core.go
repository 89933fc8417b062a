package shared

// Material accounting permissions. Each maps to one externally exposed operation group.
const (
	PermStockView      = "stock.view"
	PermStockReceive   = "stock.receive"
	PermStockWriteOff  = "stock.writeoff"
	PermReceiptDraft   = "receipts.draft"
	PermReceiptAccept  = "receipts.accept"
	PermScrapLogView   = "scraplog.view"
	PermThresholdsEdit = "thresholds.edit"
	PermMaterialsEdit  = "materials.edit"
	PermUnitsView      = "units.view"
	PermUnitsEdit      = "units.edit"
	PermAuditView      = "audit.view"
)

// InventoryScopes lists all permissions related to material accounting.
func InventoryScopes() []string {
	return []string{
		PermStockView,
		PermStockReceive,
		PermStockWriteOff,
		PermReceiptDraft,
		PermReceiptAccept,
		PermScrapLogView,
		PermThresholdsEdit,
		PermMaterialsEdit,
		PermUnitsView,
		PermUnitsEdit,
		PermAuditView,
	}
}
