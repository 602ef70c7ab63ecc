package restaurant

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/money"
)

// Seed — начальное наполнение каталога (YAML или JSON).
type Seed struct {
	Restaurants []SeedRestaurant `yaml:"restaurants" json:"restaurants"`
}

type SeedRestaurant struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	OwnerID  string         `yaml:"owner_id" json:"owner_id"`
	Active   bool           `yaml:"active" json:"active"`
	Currency string         `yaml:"currency" json:"currency"`
	Menu     []SeedMenuItem `yaml:"menu" json:"menu"`
}

type SeedMenuItem struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Price     string `yaml:"price" json:"price"`
	Available bool   `yaml:"available" json:"available"`
}

// LoadSeed читает файл наполнения; формат определяется по расширению.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	if err := cleanenv.ReadConfig(path, &seed); err != nil {
		return Seed{}, fmt.Errorf("read catalog seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply загружает наполнение в каталог и возвращает добавленные рестораны.
func (s Seed) Apply(dir *Directory) ([]domain.Restaurant, error) {
	added := make([]domain.Restaurant, 0, len(s.Restaurants))
	for _, sr := range s.Restaurants {
		if sr.ID == "" || sr.OwnerID == "" {
			return nil, fmt.Errorf("%w: seed restaurant %q needs id and owner_id", domain.ErrValidation, sr.Name)
		}
		currency := sr.Currency
		if currency == "" {
			currency = "USD"
		}
		r := domain.Restaurant{
			ID:       sr.ID,
			Name:     sr.Name,
			OwnerID:  sr.OwnerID,
			Active:   sr.Active,
			Currency: currency,
		}

		menu := make([]domain.MenuItem, 0, len(sr.Menu))
		for _, si := range sr.Menu {
			price, err := money.ParseMinor(si.Price)
			if err != nil {
				return nil, fmt.Errorf("seed restaurant %s item %s: %w", sr.ID, si.ID, err)
			}
			menu = append(menu, domain.MenuItem{
				ID:         si.ID,
				Name:       si.Name,
				PriceMinor: price,
				Available:  si.Available,
			})
		}

		dir.Put(r, menu...)
		added = append(added, r)
	}
	return added, nil
}
