package model

// OverviewStats summarises leads visible to the caller.
type OverviewStats struct {
	TotalLeads     int64 `json:"total_leads"`
	ActiveLeads    int64 `json:"active_leads"`
	ClosedLeads    int64 `json:"closed_leads"`
	TotalMessages  int64 `json:"total_messages"`
	OperatorsCount int64 `json:"managers_count"`
}

type OperatorStats struct {
	OperatorID    uint   `json:"manager_id" gorm:"column:operator_id"`
	OperatorName  string `json:"manager_name" gorm:"column:operator_name"`
	TotalLeads    int64  `json:"total_leads" gorm:"column:total_leads"`
	ActiveLeads   int64  `json:"active_leads" gorm:"column:active_leads"`
	ClosedLeads   int64  `json:"closed_leads" gorm:"column:closed_leads"`
	TotalMessages int64  `json:"total_messages" gorm:"column:total_messages"`
}

// WindowStats counts activity since a point in time.
type WindowStats struct {
	NewLeads            int64 `json:"new_leads" gorm:"column:new_leads"`
	ClosedLeads         int64 `json:"closed_leads" gorm:"column:closed_leads"`
	MessagesCount       int64 `json:"messages_count" gorm:"column:messages_count"`
	ActiveConversations int64 `json:"active_conversations" gorm:"column:active_conversations"`
}

// DailyStats is one calendar day (UTC) with any activity.
type DailyStats struct {
	Date          string `json:"date"`
	NewLeads      int64  `json:"new_leads"`
	ClosedLeads   int64  `json:"closed_leads"`
	MessagesCount int64  `json:"messages_count"`
}
