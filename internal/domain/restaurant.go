package domain

// Restaurant — снимок ресторана из внешнего каталога.
type Restaurant struct {
	ID       string
	Name     string
	OwnerID  string
	Active   bool
	Currency string
}

// MenuItem — снимок позиции меню с актуальной ценой.
type MenuItem struct {
	ID           string
	RestaurantID string
	Name         string
	PriceMinor   int64
	Available    bool
}
