package models

// ServiceKind is the closed set of marketplace verticals.
type ServiceKind string

const (
	KindTaxi     ServiceKind = "taxi"
	KindCafe     ServiceKind = "cafe"
	KindPharmacy ServiceKind = "pharmacy"
	KindShop     ServiceKind = "shop"
	KindPorter   ServiceKind = "porter" // large cargo
	KindCargo    ServiceKind = "cargo"  // small cargo
)

// BillingMode distinguishes prepaid balances (drivers, shoppers) from the
// cafe-style accumulated debt.
type BillingMode string

const (
	BillingPrepaid  BillingMode = "prepaid"
	BillingPostpaid BillingMode = "postpaid"
)

// KindStrategy is the per-vertical policy row: who gets assigned, how the
// commission is charged and which escalation tag guards the auction.
type KindStrategy struct {
	AssignsDriver bool // driver-side assignment vs provider-side
	Billing       BillingMode
	BalanceGated  bool   // check MinimumBalanceGate before assignment
	TimerTag      string // auction timer channel tag
}

var kindStrategies = map[ServiceKind]KindStrategy{
	KindTaxi:     {AssignsDriver: true, Billing: BillingPrepaid, BalanceGated: true, TimerTag: TagTaxi},
	KindCafe:     {AssignsDriver: false, Billing: BillingPostpaid, BalanceGated: false, TimerTag: TagCafe},
	KindPharmacy: {AssignsDriver: false, Billing: BillingPrepaid, BalanceGated: false, TimerTag: TagPharmacy},
	KindShop:     {AssignsDriver: true, Billing: BillingPrepaid, BalanceGated: true, TimerTag: ""},
	KindPorter:   {AssignsDriver: true, Billing: BillingPrepaid, BalanceGated: true, TimerTag: ""},
	KindCargo:    {AssignsDriver: true, Billing: BillingPrepaid, BalanceGated: true, TimerTag: ""},
}

func (k ServiceKind) Valid() bool {
	_, ok := kindStrategies[k]
	return ok
}

func (k ServiceKind) Strategy() KindStrategy {
	return kindStrategies[k]
}

// Auction timer channel tags. One per broadcast kind: the pending auction
// message of each vertical plus the post-assignment cleanup message.
const (
	TagTaxi         = "taxi"
	TagCafe         = "cafe"
	TagPharmacy     = "pharmacy"
	TagTaxiAccepted = "taxi_accepted"
)
