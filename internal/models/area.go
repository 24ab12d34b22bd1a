package models

// Area is a named group of physical nodes. Step positions may reference an
// area code instead of a literal node; resolution picks the lowest-sort
// member node. These rows are replicated from the external catalog.
type Area struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	AreaCode string `gorm:"size:64;uniqueIndex;not null"`
	AreaName string `gorm:"size:128"`
	MapCode  string `gorm:"size:64;index"`
}

// AreaNode is one member node of an area.
type AreaNode struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	AreaCode string `gorm:"size:64;index;not null"`
	NodeCode string `gorm:"size:64;not null"`
	Sort     int    `gorm:"default:0"`
}
