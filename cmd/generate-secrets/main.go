package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tripgate/booking-backend/internal/utils"
)

func main() {
	envOnly := flag.Bool("env", false, "print only the KEY=value lines")
	flag.Parse()

	secrets, err := utils.GenerateSigningSecrets(utils.SigningSecretVars...)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	if *envOnly {
		for _, s := range secrets {
			fmt.Println(s.EnvLine())
		}
		return
	}

	fmt.Println("===========================================")
	fmt.Println("JWT secret generator for the booking API")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Both secrets must match the identity service that issues tokens.")
	fmt.Println()
	for _, s := range secrets {
		fmt.Println(s.EnvLine())
	}
	fmt.Println()
	fmt.Println("Keep these out of version control. STRIPE_WEBHOOK_SECRET comes from the Stripe dashboard.")
}
