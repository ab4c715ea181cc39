// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже занятым именем или почтой.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrCategoryHasProducts возвращается при удалении категории, на которую ссылаются товары.
	ErrCategoryHasProducts = errors.New("category still has products")
	// ErrBasketEntryNotFound возвращается, если запись корзины не найдена.
	ErrBasketEntryNotFound = errors.New("basket entry not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// ProductFilter задаёт необязательные фильтры каталога: категория и ценовой
// диапазон (1: <500, 2: 500–1000, 3: 1000–5000, 4: >5000).
type ProductFilter struct {
	CategoryID int64
	PriceBand  int
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках: serialization failure,
// deadlock и обрывы соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, email string, passwordHash []byte, permission int) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, permission) VALUES ($1, $2, $3, $4) RETURNING id`,
		username, email, passwordHash, permission,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по адресу электронной почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, permission, created_at FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Permission, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserPermission возвращает уровень прав пользователя.
func (r *PostgresRepository) GetUserPermission(ctx context.Context, userID int64) (int, error) {
	var permission int
	err := r.pool.QueryRow(ctx,
		`SELECT permission FROM users WHERE id = $1`,
		userID,
	).Scan(&permission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get user permission: %w", err)
	}
	return permission, nil
}

// CreateCategory создаёт категорию каталога.
func (r *PostgresRepository) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return id, nil
}

// ListCategories возвращает все категории каталога.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var res []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeleteCategory удаляет категорию. Категория с товарами не удаляется.
func (r *PostgresRepository) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int64
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE category_id = $1`,
		id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count category products: %w", err)
	}
	if count > 0 {
		return ErrCategoryHasProducts
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateProduct сохраняет новый товар каталога.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (category_id, name, description, location, price, available)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.CategoryID, p.Name, p.Description, p.Location, p.Price, p.Available,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(category_id, 0), name, description, location, price, available, created_at
		 FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Location, &p.Price, &p.Available, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// Границы ценовых диапазонов каталога.
var priceBands = map[int][2]int64{
	1: {0, 500},
	2: {500, 1000},
	3: {1000, 5000},
	4: {5000, math.MaxInt64},
}

// ListProducts возвращает товары каталога с учётом фильтров.
func (r *PostgresRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT id, COALESCE(category_id, 0), name, description, location, price, available, created_at
	          FROM products WHERE TRUE`
	args := []any{}

	if filter.CategoryID != 0 {
		args = append(args, filter.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}

	if band, ok := priceBands[filter.PriceBand]; ok {
		switch filter.PriceBand {
		case 1:
			args = append(args, band[1])
			query += fmt.Sprintf(" AND price < $%d", len(args))
		case 4:
			args = append(args, band[0])
			query += fmt.Sprintf(" AND price > $%d", len(args))
		default:
			args = append(args, band[0], band[1])
			query += fmt.Sprintf(" AND price >= $%d AND price <= $%d", len(args)-1, len(args))
		}
	}

	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Location, &p.Price, &p.Available, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateProduct обновляет поля товара.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p *model.Product) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE products
		 SET category_id = $2, name = $3, description = $4, location = $5, price = $6, available = $7
		 WHERE id = $1`,
		p.ID, p.CategoryID, p.Name, p.Description, p.Location, p.Price, p.Available,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct удаляет товар вместе со всеми ссылающимися на него записями корзин.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM basket_entries WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("delete basket entries: %w", err)
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateVisitorToken сохраняет токен анонимного посетителя.
func (r *PostgresRepository) CreateVisitorToken(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO visitor_tokens (token) VALUES ($1) ON CONFLICT (token) DO NOTHING`,
		token,
	)
	if err != nil {
		return fmt.Errorf("create visitor token: %w", err)
	}
	return nil
}

// VisitorTokenExists проверяет, известен ли токен посетителя.
func (r *PostgresRepository) VisitorTokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM visitor_tokens WHERE token = $1)`,
		token,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check visitor token: %w", err)
	}
	return exists, nil
}

// GetBasketEntry возвращает запись корзины владельца для товара.
func (r *PostgresRepository) GetBasketEntry(ctx context.Context, owner model.Owner, productID int64) (*model.BasketEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT product_id, quantity FROM basket_entries
		 WHERE owner_kind = $1 AND owner_key = $2 AND product_id = $3`,
		string(owner.Kind), owner.Key(), productID,
	)

	var e model.BasketEntry
	if err := row.Scan(&e.ProductID, &e.Quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBasketEntryNotFound
		}
		return nil, fmt.Errorf("get basket entry: %w", err)
	}

	return &e, nil
}

// ListBasketItems возвращает записи корзины владельца вместе с текущим состоянием товаров.
func (r *PostgresRepository) ListBasketItems(ctx context.Context, owner model.Owner) ([]model.BasketItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.product_id, p.name, p.price, p.available, b.quantity
		 FROM basket_entries b
		 JOIN products p ON p.id = b.product_id
		 WHERE b.owner_kind = $1 AND b.owner_key = $2
		 ORDER BY b.id`,
		string(owner.Kind), owner.Key(),
	)
	if err != nil {
		return nil, fmt.Errorf("select basket items: %w", err)
	}
	defer rows.Close()

	var res []model.BasketItem
	for rows.Next() {
		var it model.BasketItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Price, &it.Available, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan basket item: %w", err)
		}
		res = append(res, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpsertBasketEntry создаёт запись корзины или увеличивает количество существующей.
// Уникальность пары (владелец, товар) обеспечивается ограничением таблицы.
func (r *PostgresRepository) UpsertBasketEntry(ctx context.Context, owner model.Owner, productID, delta int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO basket_entries (owner_kind, owner_key, product_id, quantity)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (owner_kind, owner_key, product_id)
			 DO UPDATE SET quantity = basket_entries.quantity + EXCLUDED.quantity`,
			string(owner.Kind), owner.Key(), productID, delta,
		)
		if err != nil {
			return fmt.Errorf("upsert basket entry: %w", err)
		}
		return nil
	})
}

// DecrementBasketEntry уменьшает количество в записи корзины на n; запись с
// неположительным остатком удаляется целиком.
func (r *PostgresRepository) DecrementBasketEntry(ctx context.Context, owner model.Owner, productID, n int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var quantity int64
		err = tx.QueryRow(ctx,
			`UPDATE basket_entries SET quantity = quantity - $4
			 WHERE owner_kind = $1 AND owner_key = $2 AND product_id = $3
			 RETURNING quantity`,
			string(owner.Kind), owner.Key(), productID, n,
		).Scan(&quantity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBasketEntryNotFound
			}
			return fmt.Errorf("decrement basket entry: %w", err)
		}

		if quantity <= 0 {
			_, err = tx.Exec(ctx,
				`DELETE FROM basket_entries
				 WHERE owner_kind = $1 AND owner_key = $2 AND product_id = $3`,
				string(owner.Kind), owner.Key(), productID,
			)
			if err != nil {
				return fmt.Errorf("delete exhausted basket entry: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// DeleteBasketEntry удаляет запись корзины владельца безусловно.
func (r *PostgresRepository) DeleteBasketEntry(ctx context.Context, owner model.Owner, productID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM basket_entries WHERE owner_kind = $1 AND owner_key = $2 AND product_id = $3`,
		string(owner.Kind), owner.Key(), productID,
	)
	if err != nil {
		return fmt.Errorf("delete basket entry: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBasketEntryNotFound
	}
	return nil
}

// DeleteBasketEntriesByOwner удаляет все записи корзины владельца.
func (r *PostgresRepository) DeleteBasketEntriesByOwner(ctx context.Context, owner model.Owner) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM basket_entries WHERE owner_kind = $1 AND owner_key = $2`,
		string(owner.Kind), owner.Key(),
	)
	if err != nil {
		return fmt.Errorf("delete basket entries: %w", err)
	}
	return nil
}

// ApplySettlementLine применяет одну позицию расчёта по оплате: уменьшает
// остаток товара (без ограничения нулём) и удаляет записи корзин всех
// владельцев, чей резерв не превышает оплаченного количества. Записи с большим
// резервом не трогаются. Позиция фиксируется отдельной транзакцией: расчёт по
// уведомлению применяется построчно, не атомарно целиком.
func (r *PostgresRepository) ApplySettlementLine(ctx context.Context, productID, quantity int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE products SET available = available - $2 WHERE id = $1`,
			productID, quantity,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrProductNotFound
		}

		// Зачистка по всем владельцам, не только по плательщику.
		_, err = tx.Exec(ctx,
			`DELETE FROM basket_entries WHERE product_id = $1 AND quantity <= $2`,
			productID, quantity,
		)
		if err != nil {
			return fmt.Errorf("sweep basket entries: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// CreateOrder сохраняет заказ. Сумма хранится в минорных единицах валюты.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (city, country, line1, line2, postal_code, body, amount_total, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		o.City, o.Country, o.Line1, o.Line2, o.PostalCode, o.Body,
		int64(math.Round(o.AmountTotal*100)), string(o.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

// ListOrdersByStatus возвращает заказы с указанным статусом.
func (r *PostgresRepository) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, city, country, line1, line2, postal_code, body, amount_total, status, created_at
		 FROM orders WHERE status = $1 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var (
			o           model.Order
			amountCents int64
			st          string
		)
		if err := rows.Scan(&o.ID, &o.City, &o.Country, &o.Line1, &o.Line2, &o.PostalCode, &o.Body, &amountCents, &st, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.AmountTotal = float64(amountCents) / 100
		o.Status = model.OrderStatus(st)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus меняет статус заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
