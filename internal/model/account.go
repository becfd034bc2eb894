package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// Account records where in a user's derivation stream an address sits.
	// The private key is never stored; it is re-derived on demand.
	Account struct {
		ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
		Address  string             `bson:"address" json:"address"`
		Currency string             `bson:"currency" json:"currency"`
		Skip     int                `bson:"skip" json:"skip"`
	}
)
