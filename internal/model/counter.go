package model

// Counter is a named monotonically increasing sequence
type Counter struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Seq  int64  `gorm:"not null;default:0"`
}

// TableName specifies the table name for Counter
func (Counter) TableName() string {
	return "counters"
}
