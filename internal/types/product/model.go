package product

type Product struct {
	ID    string `bson:"id" json:"id"`
	Name  string `bson:"name" json:"name"`
	Stock int    `bson:"stock" json:"stock"`
}
