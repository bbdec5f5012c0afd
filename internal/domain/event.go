package domain

const (
	EventNameLoggedIn       = "user.logged_in"
	EventNameLoggedOut      = "user.logged_out"
	EventNameBalanceChanged = "balance.changed"
	EventNameTestCompleted  = "test.completed"
	EventNameTokensGranted  = "tokens.granted"
	EventNameReportFallback = "report.fallback"
	EventNameFoodScanned    = "food.scanned"
)

type EventLoggedIn struct {
	VisitorID string
	User      User
}

func (EventLoggedIn) Name() string { return EventNameLoggedIn }

type EventLoggedOut struct {
	VisitorID string
}

func (EventLoggedOut) Name() string { return EventNameLoggedOut }

// EventBalanceChanged is published after a token balance mutation has been persisted.
type EventBalanceChanged struct {
	VisitorID string
	Delta     int64
	Balance   int64
}

func (EventBalanceChanged) Name() string { return EventNameBalanceChanged }

// EventTestCompleted is published the first time a visitor completes a test.
type EventTestCompleted struct {
	VisitorID string
	TestID    string
}

func (EventTestCompleted) Name() string { return EventNameTestCompleted }

// EventTokensGranted records a one-sided grant: the agent is debited, nobody is credited.
type EventTokensGranted struct {
	VisitorID string
	AgentID   string
	TargetID  string
	Amount    int64
}

func (EventTokensGranted) Name() string { return EventNameTokensGranted }

type EventReportFallback struct {
	Title  string
	Reason string
}

func (EventReportFallback) Name() string { return EventNameReportFallback }

// EventFoodScanned is published after a successful and paid food scan.
type EventFoodScanned struct {
	VisitorID string
	FoodName  string
	Calories  float64
	Price     int64
}

func (EventFoodScanned) Name() string { return EventNameFoodScanned }
