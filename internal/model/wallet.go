package model

// WalletBinding 用户与链上地址的绑定, 首次领取时创建, 地址一经绑定不再覆盖
type WalletBinding struct {
	UID       int64  `gorm:"column:uid;primaryKey;autoIncrement:false" json:"uid"`
	Principal string `gorm:"column:principal;type:varchar(255);not null" json:"principal"`
	Channel   *int64 `gorm:"column:channel;type:bigint" json:"channel"` // 首次绑定来源的红包编号
	CreatedAt int64  `gorm:"column:created_at;type:bigint;index;not null" json:"created_at"`
}

// TableName 返回表名
func (WalletBinding) TableName() string {
	return "wallets"
}

// User 用户目录
type User struct {
	UID       int64  `gorm:"column:uid;primaryKey;autoIncrement:false" json:"uid"`
	Username  string `gorm:"column:username;type:varchar(255)" json:"username"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (User) TableName() string {
	return "users"
}

// GlobalVar 全局键值
type GlobalVar struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"column:name;type:varchar(255)" json:"name"`
	GlobalKey   string `gorm:"column:global_key;type:varchar(225);uniqueIndex;not null" json:"global_key"`
	GlobalValue string `gorm:"column:global_value;type:text" json:"global_value"`
	Status      int8   `gorm:"column:status;type:smallint;not null;default:0" json:"status"`
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt   int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (GlobalVar) TableName() string {
	return "global_vars"
}
