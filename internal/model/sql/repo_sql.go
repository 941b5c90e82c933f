package sql

import (
	"errors"
	"strings"

	"promoshot/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleTransition 表示状态转换的前置状态不满足
var ErrStaleTransition = errors.New("generation request is not in a state that allows this transition")

var errNotInitialised = errors.New("repository not initialised")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GormRepository 基于 GORM 的 model.Repository 实现，支持 sqlite/mysql/postgres
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) ready() bool {
	return r != nil && r.db != nil
}

// pagination 是规范化后的分页参数，页码从 1 开始，每页最多 maxPageSize 条
type pagination struct {
	page int
	size int
}

func newPagination(params *entity.BaseParams) pagination {
	p := pagination{page: 1, size: defaultPageSize}
	if params == nil {
		return p
	}
	if params.Page > 0 {
		p.page = int(params.Page)
	}
	switch {
	case params.PageSize > maxPageSize:
		p.size = maxPageSize
	case params.PageSize > 0:
		p.size = int(params.PageSize)
	}
	return p
}

// scope 作为 db.Scopes 的参数使用
func (p pagination) scope(db *gorm.DB) *gorm.DB {
	return db.Offset((p.page - 1) * p.size).Limit(p.size)
}

func (p pagination) meta(total int64) *entity.Meta {
	return &entity.Meta{Total: total, Page: int64(p.page), PageSize: int64(p.size)}
}

// orderBy 只接受白名单中的排序字段，其他值回退到 fallback
func orderBy(params *entity.BaseParams, allowed map[string]bool, fallback clause.OrderByColumn) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		column := fallback
		if params != nil {
			if name := strings.ToLower(strings.TrimSpace(params.SortBy)); allowed[name] {
				column = clause.OrderByColumn{Column: clause.Column{Name: name}, Desc: params.SortDesc}
			}
		}
		db = db.Order(column)
		if column.Column.Name == "id" {
			return db
		}
		// id 作为次级排序保证分页稳定
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: column.Desc})
	}
}
