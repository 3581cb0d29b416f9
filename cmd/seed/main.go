package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"querycraft/internal/api/models"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Word pools for generated rows. Small on purpose, variety comes from
// combinations.
var (
	firstNames = []string{
		"Alice", "Benjamin", "Camille", "David", "Elena", "Felix", "Grace",
		"Hugo", "Ines", "Jonas", "Karim", "Lena", "Marc", "Nadia", "Oscar",
		"Paula", "Quentin", "Rosa", "Simon", "Tara", "Victor", "Wanda",
	}
	lastNames = []string{
		"Anderson", "Bernard", "Chen", "Dubois", "Evans", "Fischer",
		"Garcia", "Hansen", "Ivanov", "Johnson", "Keller", "Lambert",
		"Martin", "Nguyen", "Olsen", "Petit", "Robert", "Santos", "Weber",
	}
	productAdjectives = []string{
		"Ergonomic", "Durable", "Compact", "Premium", "Lightweight",
		"Wireless", "Classic", "Modern", "Portable", "Refined",
	}
	productNouns = []string{
		"Lamp", "Chair", "Keyboard", "Bottle", "Backpack", "Speaker",
		"Notebook", "Monitor", "Blender", "Helmet", "Tent", "Watch",
	}
	categories = []string{
		"Electronics", "Clothing", "Books", "Food & Beverages",
		"Toys & Games", "Home & Garden", "Sports & Outdoors",
		"Health & Beauty", "Automotive", "Office Supplies",
		"Furniture", "Jewelry", "Musical Instruments", "Pet Supplies",
	}
	// "completed" répété pour pondérer la distribution des statuts.
	orderStatuses = []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusCompleted,
		models.OrderStatusCompleted,
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
	}
)

func main() {
	numCustomers := flag.Int("customers", 300, "number of customers to create")
	numProducts := flag.Int("products", 100, "number of products to create")
	numOrders := flag.Int("orders", 1000, "number of orders to create")
	clear := flag.Bool("clear", false, "clear existing data before seeding")
	envfile := flag.String("env", ".env", "environment file to load")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if err := godotenv.Load(*envfile); err != nil {
		log.Warn().Str("file", *envfile).Msg("no environment file loaded, using process environment")
	}

	connection := models.DBConnectionConfig{
		Type:     models.DBType(getEnv("DB_TYPE", "postgres")),
		Host:     getEnv("DB_HOSTNAME", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		Username: getEnv("DB_USERNAME", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "querycraft"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}
	if connection.Type != models.DBTypePostgres {
		log.Fatal().Str("type", string(connection.Type)).Msg("seeding supports postgres only")
	}

	db, err := gorm.Open(postgres.Open(connection.BuildConnectionString()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(&models.Customer{}, &models.Product{}, &models.Order{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate sample tables")
	}

	// Orders absorb the shortfall so a seeded database is never too small to
	// be interesting to query.
	if total := *numCustomers + *numProducts + *numOrders; total < 1000 {
		*numOrders = 1000 - *numCustomers - *numProducts
		if *numOrders < 1 {
			*numOrders = 1000
		}
		log.Warn().Int("orders", *numOrders).Msg("adjusted order count to reach 1000 total rows")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	err = db.Transaction(func(tx *gorm.DB) error {
		if *clear {
			for _, model := range []any{&models.Order{}, &models.Customer{}, &models.Product{}} {
				if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
					return err
				}
			}
			log.Info().Msg("existing data cleared")
		}

		products := make([]models.Product, 0, *numProducts)
		for i := 0; i < *numProducts; i++ {
			products = append(products, models.Product{
				Name:     fmt.Sprintf("%s %s", pick(rng, productAdjectives), pick(rng, productNouns)),
				Category: pick(rng, categories),
				Price:    5 + rng.Float64()*995,
			})
		}
		if err := tx.CreateInBatches(products, 500).Error; err != nil {
			return err
		}
		log.Info().Int("count", len(products)).Msg("products created")

		customers := make([]models.Customer, 0, *numCustomers)
		for i := 0; i < *numCustomers; i++ {
			first := pick(rng, firstNames)
			last := pick(rng, lastNames)
			customers = append(customers, models.Customer{
				Name:             fmt.Sprintf("%s %s", first, last),
				Email:            fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
				RegistrationDate: daysAgo(rng.Intn(730)),
			})
		}
		if err := tx.CreateInBatches(customers, 500).Error; err != nil {
			return err
		}
		log.Info().Int("count", len(customers)).Msg("customers created")

		orders := make([]models.Order, 0, *numOrders)
		for i := 0; i < *numOrders; i++ {
			customer := customers[rng.Intn(len(customers))]
			product := products[rng.Intn(len(products))]

			// Jamais de commande antérieure à l'inscription du client.
			maxDaysAgo := int(time.Since(customer.RegistrationDate).Hours() / 24)
			if maxDaysAgo > 365 {
				maxDaysAgo = 365
			}
			orderDaysAgo := 0
			if maxDaysAgo > 0 {
				orderDaysAgo = rng.Intn(maxDaysAgo + 1)
			}

			orders = append(orders, models.Order{
				CustomerID: customer.ID,
				ProductID:  product.ID,
				OrderDate:  daysAgo(orderDaysAgo),
				Quantity:   1 + rng.Intn(20),
				Status:     orderStatuses[rng.Intn(len(orderStatuses))],
			})
		}
		if err := tx.CreateInBatches(orders, 500).Error; err != nil {
			return err
		}
		log.Info().Int("count", len(orders)).Msg("orders created")
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}

	log.Info().
		Int("customers", *numCustomers).
		Int("products", *numProducts).
		Int("orders", *numOrders).
		Msg("database seeding completed")
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n).Truncate(24 * time.Hour)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
