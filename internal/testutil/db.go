package testutil

import (
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/pkg/database"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewTestDB 每个测试独立的内存 sqlite，运行真实迁移
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.NewGormConfig("test"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接串行化写入，避免 shared cache 下的 table locked
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// CreateUser 插入一个测试用户，密码为 "password123"
func CreateUser(t *testing.T, db *gorm.DB, email string, role model.UserRole) *model.User {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &model.User{
		Name:     email,
		Email:    email,
		Password: string(hashed),
		Role:     role,
		Language: "english",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
