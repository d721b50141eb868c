package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Project groups bots and operators that share one round-robin pool.
type Project struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"column:name;uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Project) TableName(namer schema.Namer) string {
	return namer.TableName("projects")
}

// Operator is a staff account. Only role "manager" receives leads; "admin"
// sees everything.
type Operator struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"column:username;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role;type:varchar(20);index;not null"`
	FullName     string    `json:"full_name" gorm:"column:full_name"`
	IsActive     bool      `json:"is_active" gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Operator) TableName(namer schema.Namer) string {
	return namer.TableName("operators")
}

// ProjectOperator is the membership row read to build the eligible set.
type ProjectOperator struct {
	ProjectID  uint `gorm:"column:project_id;primaryKey"`
	OperatorID uint `gorm:"column:operator_id;primaryKey;index"`
}

func (ProjectOperator) TableName(namer schema.Namer) string {
	return namer.TableName("project_operators")
}

// Bot is one Telegram bot credential, owned by a project.
type Bot struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Identifier string    `json:"identifier" gorm:"column:identifier;uniqueIndex;not null"`
	Name       string    `json:"name" gorm:"column:name"`
	ProjectID  uint      `json:"project_id" gorm:"column:project_id;index;not null"`
	Token      string    `json:"-" gorm:"column:token;not null"`
	AutoReply  string    `json:"auto_reply,omitempty" gorm:"column:auto_reply;type:text"`
	WebhookURL string    `json:"webhook_url,omitempty" gorm:"column:webhook_url"`
	IsActive   bool      `json:"is_active" gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Bot) TableName(namer schema.Namer) string {
	return namer.TableName("bots")
}

// DistributionCounter is the per-project round-robin cursor.
type DistributionCounter struct {
	ProjectID uint  `gorm:"column:project_id;primaryKey"`
	Counter   int64 `gorm:"column:counter;not null;default:0;check:counter >= 0"`
}

func (DistributionCounter) TableName(namer schema.Namer) string {
	return namer.TableName("distribution_counters")
}
