// Package mongo implements store.Store using the official MongoDB driver.
// Suitable for deployments that already run MongoDB and want job state in
// the same place as the rest of their data.
//
// Claims use FindOneAndUpdate so concurrent workers never obtain the same
// job. BSON datetimes carry millisecond precision; timestamps are
// truncated accordingly on write.
//
// The caller owns the client lifecycle; the store never closes it. Pass a
// database handle through the constructor:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	store := mongostore.New(client.Database("jobqueue"))
//	store.Migrate(ctx)
package mongo
