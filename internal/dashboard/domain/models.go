package domain

// Filter is shared by every report. Dates are YYYY-MM-DD and inclusive.
// Region "" or "all" disables the region filter.
type Filter struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	Region    string `form:"region"`
	Limit     int    `form:"limit"`
}

type Summary struct {
	TotalTransactions      int64   `json:"totalTransactions"`
	TotalTokens            int64   `json:"totalTokens"`
	TotalCost              float64 `json:"totalCost"`
	ActiveUsers            int64   `json:"activeUsers"`
	TotalUsers             int64   `json:"totalUsers"`
	ProUsers               int64   `json:"proUsers"`
	TotalConversations     int64   `json:"totalConversations"`
	AvgCostPerConversation float64 `json:"avgCostPerConversation"`
}

type CostByModel struct {
	Model        string  `json:"model"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Transactions int64   `json:"transactions"`
}

type UsageByRegion struct {
	Region       string  `json:"region"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Users        int64   `json:"users"`
	Transactions int64   `json:"transactions"`
}

type UsageByDepartment struct {
	Department   string  `json:"department"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Users        int64   `json:"users"`
	Transactions int64   `json:"transactions"`
}

type UsageByCompany struct {
	Company      string  `json:"company"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Users        int64   `json:"users"`
	Transactions int64   `json:"transactions"`
}

type DailyTrend struct {
	Date         string  `json:"date"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Users        int64   `json:"users"`
	Transactions int64   `json:"transactions"`
}

type MonthlyTrend struct {
	Month        string  `json:"month"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Users        int64   `json:"users"`
	Transactions int64   `json:"transactions"`
}

type TokenDistribution struct {
	Type   string  `json:"type"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

type TopUser struct {
	UserID       string  `json:"userId"`
	UserName     string  `json:"userName"`
	Company      string  `json:"company"`
	Department   string  `json:"department"`
	Region       string  `json:"region"`
	IsProUser    bool    `json:"isProUser"`
	Cost         float64 `json:"cost"`
	Tokens       int64   `json:"tokens"`
	Transactions int64   `json:"transactions"`
}

// DateRange holds UTC dates, or empty strings when nothing is stored.
type DateRange struct {
	MinDate string `json:"minDate"`
	MaxDate string `json:"maxDate"`
}
